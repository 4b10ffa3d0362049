// README: Redis profile cache tests; skipped unless DISPATCH_TEST_REDIS points at a scratch server.
package user

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/auth"
	"dispatch/internal/infra"
	"dispatch/internal/types"
)

func setupRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("DISPATCH_TEST_REDIS")
	if addr == "" {
		t.Skip("DISPATCH_TEST_REDIS not set")
	}
	client, err := infra.NewRedis(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, zerolog.Nop())
}

func TestRedisCacheGenerationGuardsFill(t *testing.T) {
	cache := setupRedisCache(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	u := &User{ID: types.NewID(), Name: "Pat", Email: "pat@example.com", Role: auth.RolePartner, IsAvailable: true, CreatedAt: now, UpdatedAt: now}
	t.Cleanup(func() { cache.redis.Del(ctx, profileKey(u.ID), generationKey(u.ID)) })

	_, gen, ok := cache.Get(ctx, u.ID)
	require.False(t, ok)
	assert.Equal(t, int64(0), gen)

	cache.Invalidate(ctx, u.ID)
	cache.Set(ctx, u, gen)
	_, _, ok = cache.Get(ctx, u.ID)
	assert.False(t, ok, "fill with an old generation is dropped")

	_, gen, _ = cache.Get(ctx, u.ID)
	assert.Equal(t, int64(1), gen)
	cache.Set(ctx, u, gen)
	got, gotGen, ok := cache.Get(ctx, u.ID)
	require.True(t, ok)
	assert.Equal(t, gen, gotGen)
	assert.Equal(t, u.Email, got.Email)
	assert.True(t, got.IsAvailable)

	cache.Invalidate(ctx, u.ID)
	_, _, ok = cache.Get(ctx, u.ID)
	assert.False(t, ok)
}
