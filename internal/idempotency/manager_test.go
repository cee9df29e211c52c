package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T) (*Manager, *RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, testLogger())
	return NewManager(store, testLogger()), store, mr
}

func TestManager_ReplaysCompletedResponse(t *testing.T) {
	m, _, mr := newManager(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (Response, error) {
		calls++
		return Response{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`{"id":"alice"}`)}, nil
	}

	first, err := m.Execute(ctx, "k1", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := m.Execute(ctx, "k1", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, calls)

	assert.False(t, mr.Exists(lockKey("k1")), "lock must be released")
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL(recordKey("k1")).Seconds(), 1)
}

func TestManager_DoesNotStoreRetryableOutcomes(t *testing.T) {
	testCases := []struct {
		name    string
		resp    Response
		err     error
		wantErr bool
	}{
		{name: "server error", resp: Response{StatusCode: http.StatusInternalServerError}},
		{name: "operation error", err: errors.New("boom"), wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m, _, mr := newManager(t)
			calls := 0
			op := func(context.Context) (Response, error) {
				calls++
				return tc.resp, tc.err
			}

			for i := 0; i < 2; i++ {
				_, err := m.Execute(context.Background(), "k1", time.Hour, op)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			}
			assert.Equal(t, 2, calls)
			assert.False(t, mr.Exists(recordKey("k1")))
		})
	}
}

func TestManager_ConcurrentHolderIsInProgress(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()

	locked, err := store.Lock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)
	require.NoError(t, store.Set(ctx, "k1", &Record{Status: StatusProcessing}, time.Minute))

	_, err = m.Execute(ctx, "k1", time.Hour, func(context.Context) (Response, error) {
		t.Fatal("operation must not run while another holder owns the key")
		return Response{}, nil
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestManager_WaitsForMarkerUntilContextDone(t *testing.T) {
	m, store, _ := newManager(t)

	locked, err := store.Lock(context.Background(), "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = m.Execute(ctx, "k1", time.Hour, func(context.Context) (Response, error) {
		return Response{StatusCode: http.StatusOK}, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateKey(t *testing.T) {
	a := GenerateKey("PUT", "/api/users/alice/payout", "abc")
	assert.Equal(t, a, GenerateKey("PUT", "/api/users/alice/payout", "abc"))
	assert.NotEqual(t, a, GenerateKey("PUT", "/api/users/bob/payout", "abc"))
	assert.Len(t, a, 64)
}
