// Package payout turns threshold crossings into withdrawals and tracks each
// withdrawal until the exchange reports a final outcome.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Proton-105/hashpay/internal/activity"
	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/gateway"
	"github.com/Proton-105/hashpay/internal/ledger"
	"github.com/Proton-105/hashpay/internal/repository"
	"github.com/Proton-105/hashpay/pkg/metrics"
)

// Skip reasons exported as payouts_skipped_total labels.
const (
	SkipNoAddress    = "no_address"
	SkipGatewayOff   = "gateway_unconfigured"
	SkipBelowMinimum = "below_threshold"
)

// Processor owns the reset-then-withdraw path shared by the broadcast
// scheduler and the poller.
type Processor struct {
	users    repository.UserRepository
	payouts  repository.PayoutRepository
	ledger   ledger.Ledger
	gateway  gateway.Gateway
	activity *activity.Log
	notifier Notifier
	enqueuer StatusEnqueuer
	policy   atomic.Pointer[Policy]
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Processor)

func WithNotifier(n Notifier) Option {
	return func(p *Processor) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithStatusEnqueuer schedules a status check after every accepted withdrawal.
func WithStatusEnqueuer(e StatusEnqueuer) Option {
	return func(p *Processor) {
		p.enqueuer = e
	}
}

func NewProcessor(
	users repository.UserRepository,
	payouts repository.PayoutRepository,
	l ledger.Ledger,
	gw gateway.Gateway,
	activityLog *activity.Log,
	policy Policy,
	log *slog.Logger,
	opts ...Option,
) *Processor {
	if log == nil {
		log = slog.Default()
	}

	p := &Processor{
		users:    users,
		payouts:  payouts,
		ledger:   l,
		gateway:  gw,
		activity: activityLog,
		notifier: noopNotifier{},
		log:      log,
		now:      time.Now,
	}
	p.policy.Store(&policy)

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetPolicy swaps the policy used by subsequent settlements.
func (p *Processor) SetPolicy(policy Policy) {
	p.policy.Store(&policy)
	p.log.Info("payout policy updated",
		slog.String("threshold_primary", policy.Thresholds[domain.PrimaryCurrency].String()),
		slog.String("threshold_secondary", policy.Thresholds[domain.SecondaryCurrency].String()),
		slog.Bool("restore_on_reject", policy.RestoreOnReject),
	)
}

func (p *Processor) Policy() Policy {
	return *p.policy.Load()
}

// Settle pays out the user's balance in currency when it has reached the
// threshold. It returns nil when nothing was paid: no address, no gateway or
// not enough balance. The balance is consumed only when an address is set and
// the gateway is configured, so skipped users lose nothing.
//
// A returned record reflects the outcome of the withdrawal; the error is
// reserved for storage or ledger failures.
func (p *Processor) Settle(ctx context.Context, userID string, currency domain.Currency, source domain.PayoutSource) (*domain.PayoutRecord, error) {
	policy := p.Policy()

	user, err := p.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			metrics.RecordPayoutSkipped(SkipNoAddress)
			return nil, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	address := user.Address(currency)
	if address == "" {
		metrics.RecordPayoutSkipped(SkipNoAddress)
		return nil, nil
	}

	if !p.gateway.Configured() {
		metrics.RecordPayoutSkipped(SkipGatewayOff)
		p.log.DebugContext(ctx, "payout gateway not configured, keeping balance", slog.String("user_id", userID))
		return nil, nil
	}

	threshold := policy.ThresholdFor(user, currency)
	amount, reset, err := p.ledger.ResetIfAtLeast(ctx, userID, currency, threshold)
	if err != nil {
		return nil, fmt.Errorf("reset balance: %w", err)
	}
	if !reset {
		metrics.RecordPayoutSkipped(SkipBelowMinimum)
		return nil, nil
	}

	// The balance is consumed from here on: every write that records or
	// restores it must outlive cancellation of ctx.
	writeCtx := context.WithoutCancel(ctx)

	now := p.now().UTC()
	record := &domain.PayoutRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		Amount:    domain.RoundAmount(amount),
		Address:   address,
		Status:    domain.PayoutProcessing,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := p.payouts.Create(writeCtx, record); err != nil {
		p.restore(writeCtx, record, "payout record could not be stored")
		return nil, fmt.Errorf("create payout record: %w", err)
	}

	logger := p.log.With(
		slog.String("payout_id", record.ID),
		slog.String("user_id", userID),
		slog.String("currency", currency.String()),
		slog.String("amount", record.Amount.String()),
		slog.String("source", string(source)),
	)
	logger.InfoContext(ctx, "threshold reached, withdrawing")

	txID, err := p.withdraw(ctx, policy, record)
	if err != nil {
		return p.handleWithdrawError(ctx, logger, policy, record, err)
	}

	if err := p.payouts.AttachTransaction(writeCtx, record.ID, txID); err != nil {
		logger.ErrorContext(ctx, "failed to attach transaction id", slog.String("tx_id", txID), slog.Any("error", err))
		return p.detachedTransaction(writeCtx, logger, record, txID, err), nil
	}
	record.TransactionID = txID

	metrics.RecordPayout(currency.String(), string(source), string(domain.PayoutProcessing))
	p.appendActivity(writeCtx, record.UserID, domain.ActivitySuccess,
		fmt.Sprintf("Payout of %s %s sent to %s (tx %s)", record.Amount.StringFixed(domain.AmountPlaces), currency, address, txID))
	logger.InfoContext(ctx, "withdrawal accepted", slog.String("tx_id", txID))

	if p.enqueuer != nil {
		if err := p.enqueuer.EnqueueStatusCheck(writeCtx, record.ID, policy.StatusCheckDelay); err != nil {
			logger.WarnContext(ctx, "failed to schedule status check", slog.Any("error", err))
		}
	}

	return record, nil
}

// detachedTransaction handles an accepted withdrawal whose transaction id
// could not be stored. The record is parked as unknown, carrying the id when
// the status write succeeds, and operators get the id either way.
func (p *Processor) detachedTransaction(ctx context.Context, logger *slog.Logger, record *domain.PayoutRecord, txID string, cause error) *domain.PayoutRecord {
	amount := record.Amount.StringFixed(domain.AmountPlaces)
	reason := fmt.Sprintf("withdrawal accepted as tx %s but the id was not stored: %v", txID, cause)

	err := p.payouts.UpdateStatus(ctx, record.ID, repository.StatusUpdate{
		From:          record.Status,
		To:            domain.PayoutUnknown,
		TransactionID: txID,
		Error:         reason,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to park payout as unknown", slog.Any("error", err))
	} else {
		record.Status = domain.PayoutUnknown
		record.TransactionID = txID
		record.Error = reason
		metrics.RecordPayout(record.Currency.String(), string(record.Source), string(domain.PayoutUnknown))
	}
	p.appendActivity(ctx, record.UserID, domain.ActivityWarning,
		fmt.Sprintf("Payout of %s %s is being verified with the exchange", amount, record.Currency))
	p.notify(ctx, logger, fmt.Sprintf("Payout %s needs manual resolution: %s %s for user %s was sent as tx %s but not recorded: %v",
		record.ID, amount, record.Currency, record.UserID, txID, cause))
	return record
}

// withdraw runs the gateway call on a context that survives cancellation of
// ctx for at most the drain timeout, so shutdown lets in-flight calls finish.
func (p *Processor) withdraw(ctx context.Context, policy Policy, record *domain.PayoutRecord) (string, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.WithdrawTimeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(policy.DrainTimeout, cancel)
	})
	defer stop()

	return p.gateway.Withdraw(callCtx, gateway.WithdrawRequest{
		UserID:    record.UserID,
		Address:   record.Address,
		Amount:    record.Amount,
		Currency:  record.Currency,
		ClientRef: record.ID,
	})
}

func (p *Processor) handleWithdrawError(ctx context.Context, logger *slog.Logger, policy Policy, record *domain.PayoutRecord, err error) (*domain.PayoutRecord, error) {
	// The request state must be written even when ctx is already done.
	writeCtx := context.WithoutCancel(ctx)
	amount := record.Amount.StringFixed(domain.AmountPlaces)

	switch {
	case errors.Is(err, gateway.ErrRejected):
		logger.WarnContext(ctx, "withdrawal rejected", slog.Any("error", err))
		p.finish(writeCtx, logger, record, domain.PayoutFailed, err.Error())
		p.appendActivity(writeCtx, record.UserID, domain.ActivityError,
			fmt.Sprintf("Payout of %s %s was rejected by the exchange", amount, record.Currency))
		if policy.RestoreOnReject {
			p.restore(writeCtx, record, "rejected by exchange")
		}
		p.notify(writeCtx, logger, fmt.Sprintf("Payout %s rejected: %s %s for user %s: %v", record.ID, amount, record.Currency, record.UserID, err))

	case errors.Is(err, gateway.ErrUnavailable):
		logger.WarnContext(ctx, "payout gateway unavailable, restoring balance", slog.Any("error", err))
		p.finish(writeCtx, logger, record, domain.PayoutFailed, err.Error())
		p.restore(writeCtx, record, "gateway unavailable")
		p.appendActivity(writeCtx, record.UserID, domain.ActivityWarning,
			fmt.Sprintf("Payout of %s %s postponed: exchange unavailable", amount, record.Currency))

	default:
		logger.ErrorContext(ctx, "withdrawal outcome unknown", slog.Any("error", err))
		p.finish(writeCtx, logger, record, domain.PayoutUnknown, err.Error())
		p.appendActivity(writeCtx, record.UserID, domain.ActivityWarning,
			fmt.Sprintf("Payout of %s %s is being verified with the exchange", amount, record.Currency))
		p.notify(writeCtx, logger, fmt.Sprintf("Payout %s needs reconciliation: %s %s for user %s: %v", record.ID, amount, record.Currency, record.UserID, err))
	}

	return record, nil
}

// finish moves a processing record to status and mirrors it on record.
func (p *Processor) finish(ctx context.Context, logger *slog.Logger, record *domain.PayoutRecord, status domain.PayoutStatus, reason string) {
	if err := validateTransition(record.Status, status); err != nil {
		logger.ErrorContext(ctx, "invalid payout transition", slog.Any("error", err))
		return
	}

	err := p.payouts.UpdateStatus(ctx, record.ID, repository.StatusUpdate{
		From:  record.Status,
		To:    status,
		Error: reason,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to update payout status", slog.String("status", string(status)), slog.Any("error", err))
		return
	}

	record.Status = status
	record.Error = reason
	metrics.RecordPayout(record.Currency.String(), string(record.Source), string(status))
}

// restore credits a consumed amount back to the user.
func (p *Processor) restore(ctx context.Context, record *domain.PayoutRecord, reason string) {
	balance, err := p.ledger.Credit(ctx, record.UserID, record.Currency, record.Amount)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to restore balance",
			slog.String("payout_id", record.ID),
			slog.String("user_id", record.UserID),
			slog.String("amount", record.Amount.String()),
			slog.Any("error", err),
		)
		p.notify(ctx, p.log, fmt.Sprintf("Balance restore failed for payout %s (%s %s, user %s): %v",
			record.ID, record.Amount.StringFixed(domain.AmountPlaces), record.Currency, record.UserID, err))
		return
	}

	p.log.InfoContext(ctx, "balance restored",
		slog.String("payout_id", record.ID),
		slog.String("user_id", record.UserID),
		slog.String("reason", reason),
		slog.String("balance", balance.String()),
	)
}

func (p *Processor) appendActivity(ctx context.Context, userID string, status domain.ActivityStatus, message string) {
	if p.activity == nil {
		return
	}
	// Append already logs failures; activity never blocks a payout.
	_ = p.activity.Append(ctx, userID, message, status)
}

func (p *Processor) notify(ctx context.Context, logger *slog.Logger, message string) {
	if err := p.notifier.Notify(ctx, message); err != nil {
		logger.WarnContext(ctx, "failed to notify operators", slog.Any("error", err))
	}
}
