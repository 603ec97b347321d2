package tokenstore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process store. A zero size means unbounded and a zero ttl
// means entries never expire.
type Memory struct {
	cache *expirable.LRU[string, string]
}

// NewMemory creates a Memory store.
func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (m *Memory) GetItem(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	return v, ok, nil
}

func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.cache.Add(key, value)
	return nil
}

func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	return m.cache.Len()
}
