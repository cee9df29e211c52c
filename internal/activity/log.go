// Package activity writes the user-facing audit trail.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/repository"
)

// Log appends entries; it never edits or removes them.
type Log struct {
	repo repository.ActivityRepository
	log  *slog.Logger
	now  func() time.Time
}

func NewLog(repo repository.ActivityRepository, log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}

	return &Log{repo: repo, log: log, now: time.Now}
}

// Append records message for userID with the given status.
func (l *Log) Append(ctx context.Context, userID, message string, status domain.ActivityStatus) error {
	entry := &domain.ActivityLogEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Status:    status,
		CreatedAt: l.now().UTC(),
	}

	if err := l.repo.Append(ctx, entry); err != nil {
		l.log.ErrorContext(ctx, "failed to append activity",
			slog.String("user_id", userID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return fmt.Errorf("append activity: %w", err)
	}

	return nil
}

func (l *Log) Success(ctx context.Context, userID, message string) error {
	return l.Append(ctx, userID, message, domain.ActivitySuccess)
}

func (l *Log) Warning(ctx context.Context, userID, message string) error {
	return l.Append(ctx, userID, message, domain.ActivityWarning)
}

func (l *Log) Error(ctx context.Context, userID, message string) error {
	return l.Append(ctx, userID, message, domain.ActivityError)
}

// Recent lists the newest entries for userID.
func (l *Log) Recent(ctx context.Context, userID string, limit int) ([]*domain.ActivityLogEntry, error) {
	entries, err := l.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return entries, nil
}
