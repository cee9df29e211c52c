package payout

import (
	"context"
	"time"
)

// Notifier alerts operators about payouts that need a human.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// StatusEnqueuer schedules a later exchange status check for a payout.
type StatusEnqueuer interface {
	EnqueueStatusCheck(ctx context.Context, payoutID string, delay time.Duration) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string) error { return nil }
