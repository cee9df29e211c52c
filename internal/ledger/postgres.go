package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
)

// PostgresLedger keeps balances in the users table. Resets rely on a single
// conditional UPDATE whose row lock serializes concurrent callers.
type PostgresLedger struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Ledger = (*PostgresLedger)(nil)

func NewPostgresLedger(db *sql.DB, log *slog.Logger) *PostgresLedger {
	if log == nil {
		log = slog.Default()
	}

	return &PostgresLedger{db: db, log: log}
}

// balanceColumn maps a currency onto a fixed column name; the result is
// interpolated into SQL, so only whitelisted names may come out of it.
func balanceColumn(currency domain.Currency) (string, error) {
	switch currency {
	case domain.PrimaryCurrency:
		return "balance", nil
	case domain.SecondaryCurrency:
		return "secondary_balance", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
}

func (l *PostgresLedger) Credit(ctx context.Context, userID string, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateCredit(currency, amount); err != nil {
		return decimal.Zero, err
	}
	col, err := balanceColumn(currency)
	if err != nil {
		return decimal.Zero, err
	}

	query := fmt.Sprintf(`
		INSERT INTO users (id, %[1]s)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
			SET %[1]s = users.%[1]s + EXCLUDED.%[1]s, updated_at = NOW()
		RETURNING %[1]s
	`, col)

	var balance decimal.Decimal
	if err := l.db.QueryRowContext(ctx, query, userID, domain.RoundAmount(amount)).Scan(&balance); err != nil {
		l.log.Error("ledger credit failed", slog.String("user_id", userID), slog.String("currency", currency.String()), slog.Any("error", err))
		return decimal.Zero, fmt.Errorf("credit balance: %w", err)
	}

	return balance, nil
}

func (l *PostgresLedger) ResetIfAtLeast(ctx context.Context, userID string, currency domain.Currency, threshold decimal.Decimal) (decimal.Decimal, bool, error) {
	col, err := balanceColumn(currency)
	if err != nil {
		return decimal.Zero, false, err
	}

	query := fmt.Sprintf(`
		UPDATE users u
		SET %[1]s = 0, updated_at = NOW()
		FROM (SELECT id, %[1]s AS prior FROM users WHERE id = $1 FOR UPDATE) prev
		WHERE u.id = prev.id AND prev.prior > 0 AND prev.prior >= $2
		RETURNING prev.prior
	`, col)

	var prior decimal.Decimal
	err = l.db.QueryRowContext(ctx, query, userID, threshold).Scan(&prior)
	if errors.Is(err, sql.ErrNoRows) {
		balance, balErr := l.Balance(ctx, userID, currency)
		return balance, false, balErr
	}
	if err != nil {
		l.log.Error("ledger reset failed", slog.String("user_id", userID), slog.String("currency", currency.String()), slog.Any("error", err))
		return decimal.Zero, false, fmt.Errorf("reset balance: %w", err)
	}

	return prior, true, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string, currency domain.Currency) (decimal.Decimal, error) {
	col, err := balanceColumn(currency)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = l.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, col), userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("select balance: %w", err)
	}

	return balance, nil
}
