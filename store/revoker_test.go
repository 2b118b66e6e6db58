package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevoker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryRevoker()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Revoke(ctx, "a", now.Add(time.Hour)))
	require.NoError(t, m.Revoke(ctx, "stale", now.Add(-time.Minute)))

	revoked, err := m.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, _ = m.IsRevoked(ctx, "stale")
	assert.False(t, revoked, "already expired tokens need no entry")
	revoked, _ = m.IsRevoked(ctx, "b")
	assert.False(t, revoked)

	now = now.Add(2 * time.Hour)
	revoked, _ = m.IsRevoked(ctx, "a")
	assert.False(t, revoked)

	require.NoError(t, m.Revoke(ctx, "c", now.Add(time.Hour)))
	assert.NotContains(t, m.revoked, "a", "expired entries are swept on revoke")
}

func TestRedisRevoker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	r := NewRedisRevoker(client)
	jti := ulid.Make().String()

	revoked, err := r.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, r.Revoke(ctx, jti, time.Now().Add(time.Minute)))
	revoked, err = r.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl, err := client.TTL(ctx, "codefusion:revoked:"+jti).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
