package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Proton-105/hashpay/internal/errors"
)

// StatusOK is reported for a passing check.
const StatusOK = "OK"

const defaultCheckTimeout = 2 * time.Second

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// Checker aggregates health checks for multiple components.
type Checker struct {
	mu     sync.RWMutex
	log    *slog.Logger
	checks map[string]Checkable
}

// NewChecker instantiates a Checker with the provided logger.
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		log:    log,
		checks: make(map[string]Checkable),
	}
}

// AddCheck registers a checkable component by name.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs all registered health checks and returns their statuses.
// Each check gets its own short deadline.
func (c *Checker) Check(ctx context.Context) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]string, len(c.checks))

	for name, check := range c.checks {
		if check == nil {
			results[name] = "no check configured"
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
		err := check.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			if c.log != nil {
				c.log.Error("health check failed", slog.String("component", name), slog.Any("error", err))
			}
			continue
		}

		results[name] = StatusOK
	}

	return results
}

// DBChecker verifies connectivity to a PostgreSQL database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker constructs a DBChecker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database to ensure it is reachable.
func (c *DBChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return sql.ErrConnDone
	}
	return c.db.PingContext(ctx)
}

// Pinger abstracts the subset of redis.Client used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker verifies connectivity to a Redis instance.
type RedisChecker struct {
	pinger Pinger
}

// NewRedisChecker constructs a RedisChecker.
func NewRedisChecker(pinger Pinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

// HealthCheck issues a PING command against Redis.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}

// CircuitReporter is implemented by gateways guarded by a circuit breaker.
type CircuitReporter interface {
	Configured() bool
	State() apperrors.State
}

// GatewayChecker reports the exchange as unhealthy while its circuit is open.
// An unconfigured gateway is healthy: withdrawals are skipped, not failing.
type GatewayChecker struct {
	gw CircuitReporter
}

// NewGatewayChecker constructs a GatewayChecker.
func NewGatewayChecker(gw CircuitReporter) *GatewayChecker {
	return &GatewayChecker{gw: gw}
}

// HealthCheck inspects the breaker state without calling the exchange.
func (c *GatewayChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.gw == nil {
		return errors.New("payout gateway is not initialized")
	}
	if !c.gw.Configured() {
		return nil
	}
	if state := c.gw.State(); state == apperrors.StateOpen {
		return fmt.Errorf("payout gateway circuit is %s", state)
	}
	return nil
}

// Healthy reports whether every result is OK.
func Healthy(results map[string]string) bool {
	for _, status := range results {
		if status != StatusOK {
			return false
		}
	}
	return true
}
