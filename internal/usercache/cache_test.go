package usercache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/hashpay/internal/domain"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(client, time.Minute), mr
}

func TestCache_RoundTripDropsBalances(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	user := &domain.User{
		ID:              "alice",
		Balance:         decimal.RequireFromString("0.5"),
		PayoutAddress:   "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
		PayoutThreshold: decimal.RequireFromString("0.002"),
	}
	require.NoError(t, cache.Set(ctx, user))
	assert.Equal(t, time.Minute, mr.TTL("user:profile:alice"))

	got, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.PayoutAddress, got.PayoutAddress)
	assert.True(t, user.PayoutThreshold.Equal(got.PayoutThreshold))
	assert.True(t, got.Balance.IsZero())
	assert.True(t, decimal.RequireFromString("0.5").Equal(user.Balance), "caller's value must not be modified")

	require.NoError(t, cache.Invalidate(ctx, "alice"))
	got, err = cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_NilIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, &domain.User{ID: "alice"}))
	got, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, cache.Invalidate(ctx, "alice"))
}
