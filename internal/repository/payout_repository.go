package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/hashpay/internal/domain"
)

const payoutColumns = `id, user_id, currency, amount, address, status,
	transaction_id, source, error, created_at, updated_at`

type payoutRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPayoutRepository creates a PostgreSQL-backed payout repository.
func NewPayoutRepository(db *sql.DB, log *slog.Logger) PayoutRepository {
	if log == nil {
		log = slog.Default()
	}

	return &payoutRepository{db: db, log: log}
}

func scanPayout(row rowScanner) (*domain.PayoutRecord, error) {
	var rec domain.PayoutRecord
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Currency,
		&rec.Amount,
		&rec.Address,
		&rec.Status,
		&rec.TransactionID,
		&rec.Source,
		&rec.Error,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *payoutRepository) Create(ctx context.Context, rec *domain.PayoutRecord) error {
	const query = `
		INSERT INTO payouts (id, user_id, currency, amount, address, status, transaction_id, source, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.UserID,
		rec.Currency,
		rec.Amount,
		rec.Address,
		rec.Status,
		rec.TransactionID,
		rec.Source,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
	); err != nil {
		r.log.Error("failed to create payout", slog.String("payout_id", rec.ID), slog.Any("error", err))
		return fmt.Errorf("insert payout: %w", err)
	}

	return nil
}

func (r *payoutRepository) Get(ctx context.Context, id string) (*domain.PayoutRecord, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`

	rec, err := scanPayout(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("select payout: %w", err)
	}

	return rec, nil
}

func (r *payoutRepository) AttachTransaction(ctx context.Context, id, txID string) error {
	const query = `
		UPDATE payouts SET transaction_id = $2, updated_at = NOW()
		WHERE id = $1 AND transaction_id = ''
	`

	res, err := r.db.ExecContext(ctx, query, id, txID)
	if err != nil {
		return fmt.Errorf("attach transaction: %w", err)
	}

	return expectOneRow(res, ErrStatusConflict)
}

func (r *payoutRepository) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	const query = `
		UPDATE payouts SET
			status = $3,
			transaction_id = CASE WHEN $4 = '' THEN transaction_id ELSE $4 END,
			error = $5,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, update.From, update.To, update.TransactionID, update.Error)
	if err != nil {
		r.log.Error("failed to update payout status", slog.String("payout_id", id), slog.Any("error", err))
		return fmt.Errorf("update payout status: %w", err)
	}

	return expectOneRow(res, ErrStatusConflict)
}

func (r *payoutRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.PayoutRecord, error) {
	query := `SELECT ` + payoutColumns + `
		FROM payouts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	return r.list(ctx, query, userID, normalizeLimit(limit))
}

func (r *payoutRepository) ListByStatus(ctx context.Context, status domain.PayoutStatus, createdBefore time.Time, limit int) ([]*domain.PayoutRecord, error) {
	query := `SELECT ` + payoutColumns + `
		FROM payouts
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`

	return r.list(ctx, query, status, createdBefore, normalizeLimit(limit))
}

func (r *payoutRepository) list(ctx context.Context, query string, args ...any) ([]*domain.PayoutRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select payouts: %w", err)
	}
	defer rows.Close()

	var records []*domain.PayoutRecord
	for rows.Next() {
		rec, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}

	return records, nil
}

func expectOneRow(res sql.Result, noRows error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return noRows
	}
	return nil
}
