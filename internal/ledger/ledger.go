// Package ledger holds per-user balances and the atomic compare-and-reset
// that turns a threshold crossing into exactly one payout.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
)

var (
	// ErrInvalidAmount rejects negative credits.
	ErrInvalidAmount = errors.New("amount must not be negative")
	// ErrUnsupportedCurrency is returned for currencies the ledger does not track.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Ledger is the only component that mutates balances. Every implementation
// makes Credit and ResetIfAtLeast linearizable per user and currency: a reset
// observes every credit that completed before it, and two resets of the same
// balance never both succeed.
type Ledger interface {
	// Credit adds a non-negative amount and returns the new balance.
	Credit(ctx context.Context, userID string, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error)
	// ResetIfAtLeast zeroes a positive balance that is at least threshold and
	// returns the balance it replaced. Below threshold it changes nothing.
	ResetIfAtLeast(ctx context.Context, userID string, currency domain.Currency, threshold decimal.Decimal) (decimal.Decimal, bool, error)
	// Balance returns the current balance, zero for unknown users.
	Balance(ctx context.Context, userID string, currency domain.Currency) (decimal.Decimal, error)
}

func validateCredit(currency domain.Currency, amount decimal.Decimal) error {
	if err := validateCurrency(currency); err != nil {
		return err
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func validateCurrency(currency domain.Currency) error {
	for _, c := range domain.Currencies() {
		if c == currency {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
}

// shouldReset is the single definition of a threshold crossing.
func shouldReset(balance, threshold decimal.Decimal) bool {
	return balance.IsPositive() && balance.GreaterThanOrEqual(threshold)
}
