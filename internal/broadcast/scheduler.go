// Package broadcast drives the per-tick telemetry, credit and payout pipeline
// for every streaming connection.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/Proton-105/hashpay/internal/activity"
	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/ledger"
	"github.com/Proton-105/hashpay/internal/push"
	"github.com/Proton-105/hashpay/internal/registry"
	"github.com/Proton-105/hashpay/internal/telemetry"
	"github.com/Proton-105/hashpay/pkg/config"
	"github.com/Proton-105/hashpay/pkg/metrics"
)

// Settler consumes a crossed balance; payout.Processor in production.
type Settler interface {
	Settle(ctx context.Context, userID string, currency domain.Currency, source domain.PayoutSource) (*domain.PayoutRecord, error)
}

// Scheduler credits and pushes on every tick. Settlement runs beside the
// tick: a slow withdrawal holds up neither the tick nor other users, and a
// user whose previous settlement is still running is skipped until it ends.
type Scheduler struct {
	registry  *registry.Registry
	generator *telemetry.Generator
	ledger    ledger.Ledger
	settler   Settler
	activity  *activity.Log
	cfg       config.BroadcastConfig
	log       *slog.Logger

	settleSlots sizedwaitgroup.SizedWaitGroup
	settling    sync.WaitGroup
	mu          sync.Mutex
	inFlight    map[string]struct{}
}

func NewScheduler(
	reg *registry.Registry,
	generator *telemetry.Generator,
	l ledger.Ledger,
	settler Settler,
	activityLog *activity.Log,
	cfg config.BroadcastConfig,
	log *slog.Logger,
) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}

	return &Scheduler{
		registry:  reg,
		generator: generator,
		ledger:    l,
		settler:   settler,
		activity:  activityLog,
		cfg:       cfg,
		log:       log,

		settleSlots: sizedwaitgroup.New(cfg.MaxConcurrency),
		inFlight:    make(map[string]struct{}),
	}
}

// Run ticks until ctx is cancelled. No new tick starts after that; Run
// returns once running settlements have finished.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("broadcast scheduler started", slog.Duration("interval", s.cfg.Interval), slog.Int("max_concurrency", s.cfg.MaxConcurrency))

	for {
		select {
		case <-ctx.Done():
			s.Wait()
			s.log.Info("broadcast scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes one snapshot of active connections.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	handles := s.registry.Active()
	swg := sizedwaitgroup.New(s.cfg.MaxConcurrency)

	for _, h := range handles {
		if ctx.Err() != nil {
			break
		}

		swg.Add()
		go func(h *registry.Handle) {
			defer swg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("broadcast pipeline panicked", slog.String("user_id", h.UserID), slog.Any("panic", r))
				}
			}()
			s.process(ctx, h)
		}(h)
	}
	swg.Wait()

	metrics.RecordTick(time.Since(start))
	s.log.Debug("broadcast tick finished", slog.Int("connections", len(handles)), slog.Duration("duration", time.Since(start)))
}

// Wait blocks until every settlement started by earlier ticks has returned.
func (s *Scheduler) Wait() {
	s.settling.Wait()
}

// process credits and pushes one sample, then hands the threshold check to
// settle. Credit happens strictly before the threshold check.
func (s *Scheduler) process(ctx context.Context, h *registry.Handle) {
	logger := s.log.With(slog.String("user_id", h.UserID))
	sample := s.generator.Sample()

	credited := make([]domain.Currency, 0, len(domain.Currencies()))
	for _, currency := range domain.Currencies() {
		if _, err := s.ledger.Credit(ctx, h.UserID, currency, sample.EarningsFor(currency)); err != nil {
			metrics.RecordCredit(currency.String(), "error")
			logger.ErrorContext(ctx, "credit failed", slog.String("currency", currency.String()), slog.Any("error", err))
			continue
		}
		metrics.RecordCredit(currency.String(), "ok")
		credited = append(credited, currency)
	}

	if err := h.Send(ctx, push.MiningUpdate(sample)); err != nil {
		metrics.RecordPush(push.TypeMiningUpdate, "error")
		logger.WarnContext(ctx, "push failed, dropping connection", slog.Any("error", err))
		s.registry.Drop(h)
	} else {
		metrics.RecordPush(push.TypeMiningUpdate, "ok")
		if s.activity != nil && sample.AcceptedShares > 0 && s.generator.ShouldLogShare(s.cfg.ShareLogProbability) {
			_ = s.activity.Success(ctx, h.UserID, fmt.Sprintf("Share accepted (%d in the last interval)", sample.AcceptedShares))
		}
	}

	if len(credited) > 0 {
		s.settle(ctx, h.UserID, credited)
	}
}

// settle starts a settlement for userID unless one is already running.
// Skipped crossings stay in the balance for the next tick or the poller.
func (s *Scheduler) settle(ctx context.Context, userID string, currencies []domain.Currency) {
	s.mu.Lock()
	if _, busy := s.inFlight[userID]; busy {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "settlement still running, skipping", slog.String("user_id", userID))
		return
	}
	s.inFlight[userID] = struct{}{}
	s.settling.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.settling.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, userID)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("settlement panicked", slog.String("user_id", userID), slog.Any("panic", r))
			}
		}()

		s.settleSlots.Add()
		defer s.settleSlots.Done()

		for _, currency := range currencies {
			if _, err := s.settler.Settle(ctx, userID, currency, domain.SourceBroadcast); err != nil {
				s.log.ErrorContext(ctx, "payout settlement failed",
					slog.String("user_id", userID),
					slog.String("currency", currency.String()),
					slog.Any("error", err),
				)
			}
		}
	}()
}
