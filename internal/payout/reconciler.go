package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/hashpay/internal/activity"
	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/gateway"
	"github.com/Proton-105/hashpay/internal/ledger"
	"github.com/Proton-105/hashpay/internal/repository"
	"github.com/Proton-105/hashpay/pkg/metrics"
)

const sweepBatchSize = 100

// ErrPending means the exchange has not reached a final state yet.
var ErrPending = errors.New("payout still pending")

// Reconciler asks the exchange for the outcome of payouts that are still
// processing or were left unknown by an interrupted withdrawal.
type Reconciler struct {
	payouts  repository.PayoutRepository
	ledger   ledger.Ledger
	gateway  gateway.Gateway
	activity *activity.Log
	notifier Notifier
	restore  func() bool
	log      *slog.Logger
	now      func() time.Time
}

// NewReconciler shares the restore policy of processor.
func NewReconciler(
	payouts repository.PayoutRepository,
	l ledger.Ledger,
	gw gateway.Gateway,
	activityLog *activity.Log,
	processor *Processor,
	notifier Notifier,
	log *slog.Logger,
) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}

	return &Reconciler{
		payouts:  payouts,
		ledger:   l,
		gateway:  gw,
		activity: activityLog,
		notifier: notifier,
		restore:  func() bool { return processor.Policy().RestoreOnReject },
		log:      log,
		now:      time.Now,
	}
}

// Check resolves one payout. It returns ErrPending while the exchange is
// still working on it, and the resulting status otherwise.
func (r *Reconciler) Check(ctx context.Context, payoutID string) (domain.PayoutStatus, error) {
	record, err := r.payouts.Get(ctx, payoutID)
	if err != nil {
		return "", fmt.Errorf("load payout: %w", err)
	}
	if record.Status.Final() {
		return record.Status, nil
	}

	logger := r.log.With(slog.String("payout_id", record.ID), slog.String("user_id", record.UserID))

	if record.TransactionID == "" {
		// Without a transaction id the exchange cannot be asked; operators were
		// notified when the record went unknown.
		logger.DebugContext(ctx, "payout has no transaction id, awaiting manual resolution", slog.String("status", string(record.Status)))
		return record.Status, nil
	}

	status, err := r.gateway.CheckStatus(ctx, record.TransactionID)
	if err != nil {
		return record.Status, fmt.Errorf("check payout status: %w", err)
	}

	next := status.PayoutStatus()
	if !next.Final() {
		return record.Status, ErrPending
	}

	if err := validateTransition(record.Status, next); err != nil {
		return record.Status, err
	}

	reason := ""
	if next == domain.PayoutFailed {
		reason = "exchange reported failure"
	}
	err = r.payouts.UpdateStatus(ctx, record.ID, repository.StatusUpdate{From: record.Status, To: next, Error: reason})
	if errors.Is(err, repository.ErrStatusConflict) {
		// Someone else resolved it first.
		current, getErr := r.payouts.Get(ctx, record.ID)
		if getErr != nil {
			return "", fmt.Errorf("reload payout: %w", getErr)
		}
		return current.Status, nil
	}
	if err != nil {
		return record.Status, fmt.Errorf("update payout status: %w", err)
	}

	metrics.RecordPayout(record.Currency.String(), string(record.Source), string(next))
	amount := record.Amount.StringFixed(domain.AmountPlaces)

	switch next {
	case domain.PayoutCompleted:
		logger.InfoContext(ctx, "payout completed", slog.String("tx_id", record.TransactionID))
		r.appendActivity(ctx, record.UserID, domain.ActivitySuccess,
			fmt.Sprintf("Payout of %s %s confirmed (tx %s)", amount, record.Currency, record.TransactionID))
	case domain.PayoutFailed:
		logger.WarnContext(ctx, "payout failed at exchange", slog.String("tx_id", record.TransactionID))
		r.appendActivity(ctx, record.UserID, domain.ActivityError,
			fmt.Sprintf("Payout of %s %s failed at the exchange", amount, record.Currency))
		if r.restore() {
			if _, err := r.ledger.Credit(ctx, record.UserID, record.Currency, record.Amount); err != nil {
				logger.ErrorContext(ctx, "failed to restore balance", slog.Any("error", err))
			}
		}
		if err := r.notifier.Notify(ctx, fmt.Sprintf("Payout %s failed at exchange: %s %s for user %s", record.ID, amount, record.Currency, record.UserID)); err != nil {
			logger.WarnContext(ctx, "failed to notify operators", slog.Any("error", err))
		}
	}

	return next, nil
}

// Sweep checks every non-final payout older than minAge and returns how many
// reached a final status.
func (r *Reconciler) Sweep(ctx context.Context, minAge time.Duration) (int, error) {
	cutoff := r.now().Add(-minAge)
	resolved := 0

	for _, status := range []domain.PayoutStatus{domain.PayoutProcessing, domain.PayoutUnknown} {
		records, err := r.payouts.ListByStatus(ctx, status, cutoff, sweepBatchSize)
		if err != nil {
			return resolved, fmt.Errorf("list %s payouts: %w", status, err)
		}

		for _, record := range records {
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}

			next, err := r.Check(ctx, record.ID)
			switch {
			case errors.Is(err, ErrPending):
			case err != nil:
				r.log.WarnContext(ctx, "payout reconciliation failed", slog.String("payout_id", record.ID), slog.Any("error", err))
			case next.Final():
				resolved++
			}
		}
	}

	if resolved > 0 {
		r.log.InfoContext(ctx, "payout sweep finished", slog.Int("resolved", resolved))
	}
	return resolved, nil
}

func (r *Reconciler) appendActivity(ctx context.Context, userID string, status domain.ActivityStatus, message string) {
	if r.activity == nil {
		return
	}
	_ = r.activity.Append(ctx, userID, message, status)
}
