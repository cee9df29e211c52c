package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/internal/idempotency"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255
)

// IdempotencyMiddleware replays the first response for a repeated
// Idempotency-Key on the same route. Requests without the header pass through.
type IdempotencyMiddleware struct {
	manager *idempotency.Manager
	ttl     time.Duration
	log     *slog.Logger
}

func NewIdempotencyMiddleware(manager *idempotency.Manager, ttl time.Duration, log *slog.Logger) *IdempotencyMiddleware {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyMiddleware{manager: manager, ttl: ttl, log: log}
}

func (m *IdempotencyMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := r.Header.Get(IdempotencyHeader)
		if m == nil || m.manager == nil || clientKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(clientKey) > maxIdempotencyKey {
			apperrors.WriteJSON(w, http.StatusBadRequest, apperrors.CodeValidation, "Idempotency-Key is too long")
			return
		}

		key := idempotency.GenerateKey(r.Method, r.URL.Path, clientKey)
		result, err := m.manager.Execute(r.Context(), key, m.ttl, func(context.Context) (idempotency.Response, error) {
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)
			return idempotency.Response{
				StatusCode:  rec.Code,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.Body.Bytes(),
			}, nil
		})

		switch {
		case errors.Is(err, idempotency.ErrRequestInProgress):
			apperrors.WriteJSON(w, http.StatusConflict, apperrors.CodeState, "A request with this Idempotency-Key is in progress")
			return
		case err != nil:
			m.log.ErrorContext(r.Context(), "idempotency store failed", slog.Any("error", err))
			apperrors.WriteJSON(w, http.StatusServiceUnavailable, apperrors.CodeInternal, "Service temporarily unavailable. Please retry.")
			return
		}

		if result.FromCache {
			w.Header().Set(ReplayedHeader, "true")
		}
		if result.Response.ContentType != "" {
			w.Header().Set("Content-Type", result.Response.ContentType)
		}
		w.WriteHeader(result.Response.StatusCode)
		_, _ = w.Write(result.Response.Body)
	})
}
