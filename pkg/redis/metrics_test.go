package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestMetricsClient_RoundTrip(t *testing.T) {
	client, mr := setupTestRedis(t)
	mc := NewMetricsClient(client)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "price:BTC", "65000.5", time.Minute))

	got, err := mc.Get(ctx, "price:BTC")
	require.NoError(t, err)
	assert.Equal(t, "65000.5", got)
	assert.Equal(t, time.Minute, mr.TTL("price:BTC"))

	require.NoError(t, mc.Delete(ctx, "price:BTC"))
	_, err = mc.Get(ctx, "price:BTC")
	assert.True(t, IsNil(err))
}
