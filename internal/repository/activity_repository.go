package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Proton-105/hashpay/internal/domain"
)

type activityRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewActivityRepository creates a PostgreSQL-backed activity log.
func NewActivityRepository(db *sql.DB, log *slog.Logger) ActivityRepository {
	if log == nil {
		log = slog.Default()
	}

	return &activityRepository{db: db, log: log}
}

func (r *activityRepository) Append(ctx context.Context, entry *domain.ActivityLogEntry) error {
	const query = `
		INSERT INTO activity_log (id, user_id, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.UserID, entry.Message, entry.Status, entry.CreatedAt); err != nil {
		r.log.Error("failed to append activity", slog.String("user_id", entry.UserID), slog.Any("error", err))
		return fmt.Errorf("insert activity: %w", err)
	}

	return nil
}

func (r *activityRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.ActivityLogEntry, error) {
	const query = `
		SELECT id, user_id, message, status, created_at
		FROM activity_log
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ActivityLogEntry
	for rows.Next() {
		var e domain.ActivityLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Message, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}

	return entries, nil
}
