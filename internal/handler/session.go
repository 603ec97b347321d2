package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"docfolder-gateway/internal/config"
	"docfolder-gateway/internal/model"
	"docfolder-gateway/internal/tokenstore"
)

// maxLoginBody bounds the upstream login answer inspected for tokens.
const maxLoginBody = 64 << 10

// SessionManager binds stored tokens to a browser cookie.
type SessionManager struct {
	sessions *tokenstore.Sessions
	cookie   string
	secure   bool
	ttl      time.Duration
	logger   *slog.Logger
}

// NewSessionManager returns nil when sessions are disabled.
func NewSessionManager(cfg *config.Config, sessions *tokenstore.Sessions, logger *slog.Logger) *SessionManager {
	if !cfg.Session.Enabled || sessions == nil {
		return nil
	}
	return &SessionManager{
		sessions: sessions,
		cookie:   cfg.Session.CookieName,
		secure:   cfg.Session.CookieSecure,
		ttl:      time.Duration(cfg.Session.TTLSeconds) * time.Second,
		logger:   logger.With("component", "sessions"),
	}
}

// Login relays a successful upstream login and, when it carries an
// access_token, stores it and sets the session cookie. The body reaches the
// client unchanged either way.
func (m *SessionManager) Login(c echo.Context, resp *model.UpstreamResponse) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginBody))
	if err != nil {
		return err
	}

	token := gjson.GetBytes(body, "access_token").String()
	tokenType := gjson.GetBytes(body, "token_type").String()
	id, err := m.sessions.Save(c.Request().Context(), token, tokenType)
	switch {
	case errors.Is(err, tokenstore.ErrNoToken):
		m.logger.Debug("login response carried no token")
	case err != nil:
		// The login itself succeeded; the client can still use the token.
		m.logger.Error("save session", "err", err)
	default:
		c.SetCookie(m.newCookie(id, int(m.ttl.Seconds())))
	}

	for key, vals := range filterLoginHeaders(resp.Header) {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	_, err = io.Copy(c.Response(), bytes.NewReader(body))
	return err
}

// Auth returns the stored credentials of the request's session, if any.
func (m *SessionManager) Auth(c echo.Context) model.AuthContext {
	ck, err := c.Cookie(m.cookie)
	if err != nil || ck.Value == "" {
		return model.AuthContext{}
	}
	auth, ok, err := m.sessions.Load(c.Request().Context(), ck.Value)
	if err != nil {
		m.logger.Error("load session", "err", err)
		return model.AuthContext{}
	}
	if !ok {
		return model.AuthContext{}
	}
	return auth
}

// Logout drops the request's session and expires the cookie.
func (m *SessionManager) Logout(c echo.Context) {
	ck, err := c.Cookie(m.cookie)
	if err != nil || ck.Value == "" {
		return
	}
	if err := m.sessions.Delete(c.Request().Context(), ck.Value); err != nil {
		m.logger.Error("delete session", "err", err)
	}
	c.SetCookie(m.newCookie("", -1))
}

func (m *SessionManager) newCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// filterLoginHeaders drops Content-Length along with the usual headers, since
// the body may have been cut at maxLoginBody.
func filterLoginHeaders(h http.Header) http.Header {
	out := make(http.Header)
	for key, vals := range h {
		switch http.CanonicalHeaderKey(key) {
		case "Content-Type", "Cache-Control", "Date", "X-Request-Id":
			out[key] = vals
		}
	}
	return out
}
