package payout

import (
	"context"
	"log/slog"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/repository"
)

// Poller periodically settles every user with a payout address, catching
// balances that crossed the threshold while no connection was streaming.
type Poller struct {
	users       repository.UserRepository
	processor   *Processor
	reconciler  *Reconciler
	interval    time.Duration
	concurrency int
	log         *slog.Logger
}

type PollerOption func(*Poller)

// WithSweep makes every poll also reconcile pending payouts. Used when the
// background job queue is disabled.
func WithSweep(r *Reconciler) PollerOption {
	return func(p *Poller) {
		p.reconciler = r
	}
}

func NewPoller(users repository.UserRepository, processor *Processor, interval time.Duration, concurrency int, log *slog.Logger, opts ...PollerOption) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	p := &Poller{
		users:       users,
		processor:   processor,
		interval:    interval,
		concurrency: concurrency,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("payout poller started", slog.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("payout poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one pass and returns the payouts it created.
func (p *Poller) Poll(ctx context.Context) []*domain.PayoutRecord {
	users, err := p.users.ListWithPayoutAddress(ctx)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to list users for payout", slog.Any("error", err))
		return nil
	}

	results := make(chan *domain.PayoutRecord, len(users)*len(domain.Currencies()))
	swg := sizedwaitgroup.New(p.concurrency)

	for _, user := range users {
		if ctx.Err() != nil {
			break
		}

		swg.Add()
		go func(user *domain.User) {
			defer swg.Done()

			for _, currency := range domain.Currencies() {
				if user.Address(currency) == "" {
					continue
				}
				record, err := p.processor.Settle(ctx, user.ID, currency, domain.SourcePoller)
				if err != nil {
					p.log.ErrorContext(ctx, "poller settlement failed",
						slog.String("user_id", user.ID),
						slog.String("currency", currency.String()),
						slog.Any("error", err),
					)
					continue
				}
				if record != nil {
					results <- record
				}
			}
		}(user)
	}
	swg.Wait()
	close(results)

	created := make([]*domain.PayoutRecord, 0, len(results))
	for record := range results {
		created = append(created, record)
	}

	if p.reconciler != nil && ctx.Err() == nil {
		if _, err := p.reconciler.Sweep(ctx, p.processor.Policy().StatusCheckDelay); err != nil {
			p.log.WarnContext(ctx, "payout sweep failed", slog.Any("error", err))
		}
	}

	return created
}
