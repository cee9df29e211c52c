package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/internal/ratelimit"
)

// RateLimitMiddleware enforces per-client-IP limits on the admin API.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
	}
}

// Handle limits next. Limiter failures let the request through.
func (m *RateLimitMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.limiter == nil || m.rules == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)
		if m.rules.IsWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		class, rule := m.rules.ForMethod(r.Method)
		result, err := m.limiter.Check(r.Context(), class+":"+ip, rule.Limit, rule.Window)
		if err != nil {
			m.log.WarnContext(r.Context(), "rate limiter error", slog.String("ip", ip), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retryAfter := result.RetryAfter(time.Now())
			m.log.WarnContext(r.Context(), "rate limit exceeded", slog.String("ip", ip), slog.String("class", class))

			appErr := apperrors.NewRateLimitError(retryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			apperrors.WriteJSON(w, http.StatusTooManyRequests, appErr.Code, appErr.UserMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
