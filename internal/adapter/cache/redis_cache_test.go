package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheSessions(t *testing.T) {
	addr := os.Getenv("SOLBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SOLBOT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := NewRedisCache(addr, "", 0, time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	user := "test-" + uuid.NewString()
	got, err := c.LoadSession(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, got)

	cfg := domain.SessionConfig{Capital: decimal.NewFromInt(1000), TokenAddress: "So11111111111111111111111111111111111111112"}
	require.NoError(t, c.SaveSession(ctx, user, cfg))
	got, err = c.LoadSession(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg.TokenAddress, got.TokenAddress)
	assert.True(t, cfg.Capital.Equal(got.Capital))

	require.NoError(t, c.DeleteSession(ctx, user))
	got, err = c.LoadSession(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheUnreachable(t *testing.T) {
	c := NewRedisCache("127.0.0.1:1", "", 0, time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.LoadSession(ctx, "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}
