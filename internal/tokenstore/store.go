// Package tokenstore keeps auth tokens on the server side.
//
// The gateway is stateless by default and only forwards the credentials each
// request carries. When sessions are enabled, tokens returned by a login are
// kept here under a per-session key so a browser holding only the session
// cookie can still be authenticated upstream.
package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"docfolder-gateway/internal/config"
)

// Store is a string key-value store.
type Store interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// New builds the store selected by cfg.Session.Backend.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	ttl := time.Duration(cfg.Session.TTLSeconds) * time.Second

	switch cfg.Session.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		logger.Info("token store", "backend", "redis", "addr", cfg.Session.Redis.Addr)
		return NewRedis(client, cfg.Session.Redis.KeyPrefix, ttl), nil
	case "memory", "":
		logger.Info("token store", "backend", "memory", "max_entries", cfg.Session.MaxEntries)
		return NewMemory(cfg.Session.MaxEntries, ttl), nil
	default:
		return nil, fmt.Errorf("tokenstore: unknown backend %q", cfg.Session.Backend)
	}
}
