// Package telemetry produces synthetic rig readings around configured baselines.
package telemetry

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/pkg/config"
)

const maxSharesPerTick = 12

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	cfg config.TelemetryConfig
	now func() time.Time
}

// NewGenerator seeds from cfg.Seed; zero picks a random seed.
func NewGenerator(cfg config.TelemetryConfig) *Generator {
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cfg: cfg,
		now: time.Now,
	}
}

// Sample returns one reading. Every field stays within baseline ± jitter and
// earnings are never negative.
func (g *Generator) Sample() domain.TelemetrySample {
	g.mu.Lock()
	defer g.mu.Unlock()

	accepted := g.rng.IntN(maxSharesPerTick + 1)
	rejected := 0
	if accepted > 0 && g.rng.Float64() < 0.02 {
		rejected = 1
	}

	return domain.TelemetrySample{
		HashrateTHs:       g.jitter(g.cfg.HashrateTHs),
		PowerWatts:        g.jitter(g.cfg.PowerWatts),
		TemperatureC:      g.jitter(g.cfg.TemperatureC),
		Earnings:          g.earnings(g.cfg.EarningsPerTick),
		SecondaryEarnings: g.earnings(g.cfg.SecondaryEarningsPerTick),
		AcceptedShares:    accepted,
		RejectedShares:    rejected,
		Timestamp:         g.now().UTC(),
	}
}

// ShouldLogShare draws against probability p.
func (g *Generator) ShouldLogShare(p float64) bool {
	if p <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < p
}

func (g *Generator) jitter(base float64) float64 {
	if base <= 0 {
		return 0
	}
	delta := (g.rng.Float64()*2 - 1) * g.cfg.Jitter
	return base * (1 + delta)
}

func (g *Generator) earnings(base float64) decimal.Decimal {
	v := g.jitter(base)
	if v <= 0 {
		return decimal.Zero
	}
	return domain.RoundAmount(decimal.NewFromFloat(v))
}
