package in_memory

import (
	"context"
	"sync"
	"time"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/port"
)

// Cache is a process-local session cache with an optional TTL.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	store map[string]cacheEntry
}

type cacheEntry struct {
	cfg     domain.SessionConfig
	expires time.Time
}

var _ port.SessionStore = (*Cache)(nil)

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now, store: make(map[string]cacheEntry)}
}

func (c *Cache) SaveSession(ctx context.Context, userID string, cfg domain.SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{cfg: cfg}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.store[userID] = e
	return nil
}

func (c *Cache) LoadSession(ctx context.Context, userID string) (*domain.SessionConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store[userID]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.store, userID)
		return nil, nil
	}
	cfg := e.cfg
	return &cfg, nil
}

func (c *Cache) DeleteSession(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, userID)
	return nil
}
