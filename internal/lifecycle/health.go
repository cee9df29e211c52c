package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Proton-105/hashpay/internal/health"
)

// ErrShuttingDown is returned by Readiness once shutdown has begun.
var ErrShuttingDown = errors.New("service is shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes answers liveness unconditionally and readiness from the registered
// dependency checks.
type Probes struct {
	checker  *health.Checker
	draining atomic.Bool
	log      *slog.Logger
}

// NewProbes creates a new Probes instance.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(log)
	}
	return &Probes{checker: checker, log: log}
}

// Liveness reports that the process is running.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness fails while draining or when any dependency check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	if p.draining.Load() {
		return ErrShuttingDown
	}

	results := p.checker.Check(ctx)
	if health.Healthy(results) {
		return nil
	}

	failed := make([]string, 0, len(results))
	for name, status := range results {
		if status != health.StatusOK {
			failed = append(failed, fmt.Sprintf("%s: %s", name, status))
		}
	}
	sort.Strings(failed)
	return fmt.Errorf("not ready: %s", strings.Join(failed, "; "))
}

// Results runs the dependency checks for reporting.
func (p *Probes) Results(ctx context.Context) map[string]string {
	return p.checker.Check(ctx)
}

// SetDraining marks the service as going away so load balancers stop routing to it.
func (p *Probes) SetDraining() {
	p.draining.Store(true)
}
