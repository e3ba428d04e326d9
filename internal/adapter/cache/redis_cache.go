package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.SessionStore = (*RedisCache)(nil)

// RedisCache stores session configs as JSON under "session:<user>".
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{
		client: rdb,
		ttl:    ttl,
	}
}

func key(userID string) string { return "session:" + userID }

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SaveSession(ctx context.Context, userID string, cfg domain.SessionConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return wrap(c.client.Set(ctx, key(userID), b, c.ttl).Err())
}

func (c *RedisCache) LoadSession(ctx context.Context, userID string) (*domain.SessionConfig, error) {
	b, err := c.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	var cfg domain.SessionConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RedisCache) DeleteSession(ctx context.Context, userID string) error {
	return wrap(c.client.Del(ctx, key(userID)).Err())
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: redis: %v", domain.ErrUnavailable, err)
}
