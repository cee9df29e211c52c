package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/jobs"
	"github.com/Proton-105/hashpay/internal/payout"
	"github.com/Proton-105/hashpay/internal/repository"
)

// Reconciler is the part of payout.Reconciler the handlers use.
type Reconciler interface {
	Check(ctx context.Context, payoutID string) (domain.PayoutStatus, error)
	Sweep(ctx context.Context, minAge time.Duration) (int, error)
}

type PayoutStatusHandler struct {
	reconciler Reconciler
	log        *slog.Logger
}

func NewPayoutStatusHandler(r Reconciler, log *slog.Logger) *PayoutStatusHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PayoutStatusHandler{reconciler: r, log: log}
}

// ProcessTask returns an error while the payout is pending so asynq retries
// it with backoff.
func (h *PayoutStatusHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.PayoutStatusPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "payout status: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	status, err := h.reconciler.Check(ctx, payload.PayoutID)
	switch {
	case errors.Is(err, repository.ErrPayoutNotFound):
		h.log.WarnContext(ctx, "payout status: payout not found", slog.String("payout_id", payload.PayoutID))
		return fmt.Errorf("payout %s: %w", payload.PayoutID, asynq.SkipRetry)
	case errors.Is(err, payout.ErrPending):
		h.log.DebugContext(ctx, "payout status: still pending", slog.String("payout_id", payload.PayoutID))
		return err
	case err != nil:
		h.log.WarnContext(ctx, "payout status: check failed", slog.String("payout_id", payload.PayoutID), slog.Any("error", err))
		return err
	}

	h.log.InfoContext(ctx, "payout status: resolved", slog.String("payout_id", payload.PayoutID), slog.String("status", string(status)))
	return nil
}

type PayoutSweepHandler struct {
	reconciler Reconciler
	log        *slog.Logger
}

func NewPayoutSweepHandler(r Reconciler, log *slog.Logger) *PayoutSweepHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PayoutSweepHandler{reconciler: r, log: log}
}

func (h *PayoutSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.PayoutSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	resolved, err := h.reconciler.Sweep(ctx, payload.MinAge)
	if err != nil {
		return fmt.Errorf("sweep payouts: %w", err)
	}

	h.log.InfoContext(ctx, "payout sweep: finished", slog.Int("resolved", resolved))
	return nil
}
