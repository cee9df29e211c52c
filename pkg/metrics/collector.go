package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	broadcastTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_ticks_total",
			Help: "Total number of broadcast scheduler ticks",
		},
	)
	broadcastTickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_tick_duration_seconds",
			Help:    "Time spent processing all connections in one tick",
			Buckets: prometheus.DefBuckets,
		},
	)
	pushMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_messages_total",
			Help: "Messages pushed to clients labeled by type and status",
		},
		[]string{"type", "status"},
	)
	ledgerCreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_total",
			Help: "Balance credits labeled by currency and status",
		},
		[]string{"currency", "status"},
	)
	payoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Payout attempts labeled by currency, source and resulting status",
		},
		[]string{"currency", "source", "status"},
	)
	payoutsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_skipped_total",
			Help: "Threshold checks that did not reach the gateway, labeled by reason",
		},
		[]string{"reason"},
	)
	gatewayRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Exchange gateway latency by operation and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
	gatewayCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state for withdrawals (0 closed, 1 open, 2 half-open)",
		},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	connectionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_connections",
			Help: "Current number of registered push connections",
		},
	)
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_connections_active",
			Help: "Current number of connections with mining switched on",
		},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Admin API requests labeled by route, method and status code",
		},
		[]string{"route", "method", "code"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin API latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	rateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Rate limit checks by backend and result",
		},
		[]string{"backend", "result"},
	)
	rateLimitBackendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_backend_errors_total",
			Help: "Errors returned by a rate limit backend",
		},
		[]string{"backend"},
	)
)

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RecordTick counts a scheduler tick and its duration.
func RecordTick(duration time.Duration) {
	broadcastTicksTotal.Inc()
	broadcastTickDurationSeconds.Observe(duration.Seconds())
}

func RecordPush(msgType, status string) {
	pushMessagesTotal.WithLabelValues(label(msgType), label(status)).Inc()
}

func RecordCredit(currency, status string) {
	ledgerCreditsTotal.WithLabelValues(label(currency), label(status)).Inc()
}

// RecordPayout counts a payout that reached the gateway, by final or interim status.
func RecordPayout(currency, source, status string) {
	payoutsTotal.WithLabelValues(label(currency), label(source), label(status)).Inc()
}

func RecordPayoutSkipped(reason string) {
	payoutsSkippedTotal.WithLabelValues(label(reason)).Inc()
}

func RecordGatewayRequest(operation, status string, duration time.Duration) {
	gatewayRequestDurationSeconds.WithLabelValues(label(operation), label(status)).Observe(duration.Seconds())
}

func SetGatewayCircuitState(state int) {
	gatewayCircuitState.Set(float64(state))
}

func RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(label(route), label(method), strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(label(route)).Observe(duration.Seconds())
}

func RecordRateLimitCheck(backend string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	rateLimitChecksTotal.WithLabelValues(label(backend), result).Inc()
}

func RecordRateLimitBackendError(backend string) {
	rateLimitBackendErrorsTotal.WithLabelValues(label(backend)).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(label(errType), label(severity)).Inc()
}

// ConnectionCounter is implemented by the connection registry.
type ConnectionCounter interface {
	Count() int
	ActiveCount() int
}

// ConnectionCollector periodically exports registry sizes as gauges.
type ConnectionCollector struct {
	counter  ConnectionCounter
	interval time.Duration
}

// NewConnectionCollector builds a collector polling counter every interval.
func NewConnectionCollector(counter ConnectionCounter, interval time.Duration) *ConnectionCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ConnectionCollector{counter: counter, interval: interval}
}

// Run updates the connection gauges until ctx is cancelled.
func (c *ConnectionCollector) Run(ctx context.Context) {
	if c == nil || c.counter == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.collect()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *ConnectionCollector) collect() {
	connectionsTotal.Set(float64(c.counter.Count()))
	activeConnections.Set(float64(c.counter.ActiveCount()))
}
