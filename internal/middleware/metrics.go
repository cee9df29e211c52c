package middleware

import (
	"net/http"
	"time"

	"github.com/Proton-105/hashpay/pkg/metrics"
)

// Metrics reports request count and latency for route to Prometheus.
func Metrics(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := wrap(w)
			next.ServeHTTP(rec, r)

			metrics.RecordHTTPRequest(route, r.Method, rec.code(), time.Since(start))
		})
	}
}
