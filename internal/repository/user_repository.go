package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/hashpay/internal/domain"
)

const userColumns = `id, balance, payout_address, payout_threshold,
	secondary_balance, secondary_address, secondary_threshold, created_at, updated_at`

type userRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewUserRepository creates a PostgreSQL-backed user repository.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	if log == nil {
		log = slog.Default()
	}

	return &userRepository{
		db:  db,
		log: log,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Balance,
		&user.PayoutAddress,
		&user.PayoutThreshold,
		&user.SecondaryBalance,
		&user.SecondaryAddress,
		&user.SecondaryThreshold,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

// Get loads a user by identifier.
func (r *userRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		r.log.Error("failed to fetch user", slog.String("user_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("select user: %w", err)
	}

	return user, nil
}

// Ensure inserts an empty profile when id is new and returns the stored row.
func (r *userRepository) Ensure(ctx context.Context, id string) (*domain.User, error) {
	const insert = `
		INSERT INTO users (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, insert, id); err != nil {
		r.log.Error("failed to ensure user", slog.String("user_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return r.Get(ctx, id)
}

// UpdatePayoutSettings applies the non-nil fields of settings in one statement.
func (r *userRepository) UpdatePayoutSettings(ctx context.Context, id string, settings domain.PayoutSettings) (*domain.User, error) {
	query := `
		UPDATE users SET
			payout_address      = COALESCE($2, payout_address),
			payout_threshold    = COALESCE($3, payout_threshold),
			secondary_address   = COALESCE($4, secondary_address),
			secondary_threshold = COALESCE($5, secondary_threshold),
			updated_at          = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	var threshold, secondaryThreshold any
	if settings.PayoutThreshold != nil {
		threshold = settings.PayoutThreshold.String()
	}
	if settings.SecondaryThreshold != nil {
		secondaryThreshold = settings.SecondaryThreshold.String()
	}

	user, err := scanUser(r.db.QueryRowContext(
		ctx,
		query,
		id,
		nullableString(settings.PayoutAddress),
		threshold,
		nullableString(settings.SecondaryAddress),
		secondaryThreshold,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		r.log.Error("failed to update payout settings", slog.String("user_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("update payout settings: %w", err)
	}

	return user, nil
}

// ListWithPayoutAddress returns every user with at least one payout address.
func (r *userRepository) ListWithPayoutAddress(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE payout_address <> '' OR secondary_address <> ''
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select users with payout address: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
