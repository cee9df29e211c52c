package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/internal/idempotency"
)

func newIdempotent(t *testing.T, next http.Handler) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := idempotency.NewManager(idempotency.NewRedisStore(client, testLogger()), testLogger())
	return NewIdempotencyMiddleware(manager, time.Hour, testLogger()).Handle(next)
}

func TestIdempotency_ReplaysResponse(t *testing.T) {
	var calls atomic.Int32
	h := newIdempotent(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]int32{"call": n})
	}))

	do := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{}`))
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do("/api/users/alice/payout", "key-1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	replay := do("/api/users/alice/payout", "key-1")
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(ReplayedHeader))
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, int32(1), calls.Load())

	do("/api/users/bob/payout", "key-1")
	do("/api/users/alice/payout", "")
	assert.Equal(t, int32(3), calls.Load(), "other paths and unkeyed requests run normally")
}

func TestIdempotency_ServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	h := newIdempotent(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPut, "/api/users/alice/payout", nil)
		req.Header.Set(IdempotencyHeader, "key-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_RejectsLongKey(t *testing.T) {
	h := newIdempotent(t, okHandler)
	req := httptest.NewRequest(http.MethodPut, "/api/users/alice/payout", nil)
	req.Header.Set(IdempotencyHeader, strings.Repeat("k", maxIdempotencyKey+1))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body apperrors.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeValidation, body.Code)
}

func TestIdempotency_NilIsPassThrough(t *testing.T) {
	var m *IdempotencyMiddleware
	req := httptest.NewRequest(http.MethodPut, "/api/users/alice/payout", nil)
	req.Header.Set(IdempotencyHeader, "key-1")
	rec := httptest.NewRecorder()
	m.Handle(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
