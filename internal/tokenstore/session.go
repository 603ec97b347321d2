package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"docfolder-gateway/internal/model"
)

// ErrNoToken is returned by Sessions.Save when there is nothing to store.
var ErrNoToken = errors.New("tokenstore: no token to store")

const (
	keyAuthToken = "auth_token"
	keyTokenType = "token_type"
)

// Sessions scopes tokens to one browser session.
type Sessions struct {
	store Store
}

// NewSessions wraps store.
func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

func sessionKey(id, name string) string {
	return "session:" + id + ":" + name
}

// Save stores token and tokenType under a new session id and returns it.
func (s *Sessions) Save(ctx context.Context, token, tokenType string) (string, error) {
	if token == "" {
		return "", ErrNoToken
	}
	id := uuid.NewString()
	if err := s.store.SetItem(ctx, sessionKey(id, keyAuthToken), token); err != nil {
		return "", fmt.Errorf("save session token: %w", err)
	}
	if tokenType != "" {
		if err := s.store.SetItem(ctx, sessionKey(id, keyTokenType), tokenType); err != nil {
			return "", fmt.Errorf("save session token type: %w", err)
		}
	}
	return id, nil
}

// Load returns the credentials of session id. ok is false for unknown or
// expired sessions and for ids that are not UUIDs.
func (s *Sessions) Load(ctx context.Context, id string) (auth model.AuthContext, ok bool, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return model.AuthContext{}, false, nil
	}
	token, ok, err := s.store.GetItem(ctx, sessionKey(id, keyAuthToken))
	if err != nil || !ok {
		return model.AuthContext{}, false, err
	}
	tokenType, _, err := s.store.GetItem(ctx, sessionKey(id, keyTokenType))
	if err != nil {
		return model.AuthContext{}, false, err
	}
	return model.AuthContext{Token: token, TokenType: tokenType}, true, nil
}

// Delete drops session id.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	return errors.Join(
		s.store.RemoveItem(ctx, sessionKey(id, keyAuthToken)),
		s.store.RemoveItem(ctx, sessionKey(id, keyTokenType)),
	)
}
