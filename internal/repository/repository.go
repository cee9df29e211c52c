// Package repository persists users, payout records and the activity log.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/hashpay/internal/domain"
)

var (
	// ErrUserNotFound is returned when no user matches the identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrPayoutNotFound is returned when no payout record matches the identifier.
	ErrPayoutNotFound = errors.New("payout not found")
	// ErrStatusConflict means the record was no longer in the expected status.
	ErrStatusConflict = errors.New("payout status changed concurrently")
)

const defaultListLimit = 50

// UserRepository defines persistence operations for user payout profiles.
type UserRepository interface {
	Get(ctx context.Context, id string) (*domain.User, error)
	// Ensure returns the user, creating an empty profile on first sight.
	Ensure(ctx context.Context, id string) (*domain.User, error)
	UpdatePayoutSettings(ctx context.Context, id string, settings domain.PayoutSettings) (*domain.User, error)
	ListWithPayoutAddress(ctx context.Context) ([]*domain.User, error)
}

// StatusUpdate moves a payout record from one status to another.
type StatusUpdate struct {
	From          domain.PayoutStatus
	To            domain.PayoutStatus
	TransactionID string
	Error         string
}

// PayoutRepository stores payout records. Amount, address and owner are
// written once by Create and never updated.
type PayoutRepository interface {
	Create(ctx context.Context, record *domain.PayoutRecord) error
	Get(ctx context.Context, id string) (*domain.PayoutRecord, error)
	AttachTransaction(ctx context.Context, id, txID string) error
	// UpdateStatus applies update only when the record is still in update.From.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.PayoutRecord, error)
	ListByStatus(ctx context.Context, status domain.PayoutStatus, createdBefore time.Time, limit int) ([]*domain.PayoutRecord, error)
}

// ActivityRepository is an append-only store of activity log entries.
type ActivityRepository interface {
	Append(ctx context.Context, entry *domain.ActivityLogEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.ActivityLogEntry, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
