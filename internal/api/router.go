// Package api serves the administrative HTTP surface and the push endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/internal/middleware"
	"github.com/Proton-105/hashpay/internal/user"
	"github.com/Proton-105/hashpay/pkg/logger"
)

// Probes answers the health endpoints.
type Probes interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
	Results(ctx context.Context) map[string]string
}

// Deps are the collaborators the routes need. RateLimit, Idempotency and
// Push are optional.
type Deps struct {
	Users       *user.Service
	Probes      Probes
	Push        http.Handler
	RateLimit   *middleware.RateLimitMiddleware
	Idempotency *middleware.IdempotencyMiddleware
	Errors      *apperrors.Handler
	Log         *slog.Logger
}

type handler struct {
	users  *user.Service
	probes Probes
	errors *apperrors.Handler
	log    *slog.Logger
}

// NewRouter builds the service mux. Admin routes are rate limited; probes,
// metrics and the websocket are not.
func NewRouter(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	errHandler := deps.Errors
	if errHandler == nil {
		errHandler = apperrors.NewHandler(log, false)
	}

	h := &handler{users: deps.Users, probes: deps.Probes, errors: errHandler, log: log}
	mux := http.NewServeMux()

	admin := func(pattern string, fn http.Handler, extra ...func(http.Handler) http.Handler) {
		mws := append([]func(http.Handler) http.Handler{
			middleware.Metrics(pattern),
			deps.RateLimit.Handle,
		}, extra...)
		mux.Handle(pattern, middleware.Chain(fn, mws...))
	}

	admin("GET /api/users/{id}", http.HandlerFunc(h.getUser))
	admin("PUT /api/users/{id}/payout", http.HandlerFunc(h.updatePayout), deps.Idempotency.Handle)
	admin("GET /api/users/{id}/activity", http.HandlerFunc(h.listActivity))
	admin("GET /api/users/{id}/payouts", http.HandlerFunc(h.listPayouts))
	admin("GET /api/price/{currency}", http.HandlerFunc(h.getPrice))

	mux.HandleFunc("GET /healthz", h.liveness)
	mux.HandleFunc("GET /readyz", h.readiness)
	mux.Handle("GET /metrics", promhttp.Handler())
	if deps.Push != nil {
		mux.Handle("GET /ws", deps.Push)
	}

	return middleware.Chain(mux,
		middleware.Recover(log),
		logger.Middleware,
		middleware.Logging(log),
	)
}
