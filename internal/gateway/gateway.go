// Package gateway talks to the third-party exchange that executes withdrawals
// and quotes prices.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
)

var (
	// ErrUnavailable means no withdrawal was attempted: credentials are missing
	// or the circuit is open. Nothing left the service.
	ErrUnavailable = errors.New("payout gateway unavailable")
	// ErrRejected means the exchange was reached and declined the request.
	ErrRejected = errors.New("payout gateway rejected request")
)

// Status is the exchange-side state of a withdrawal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// PayoutStatus maps an exchange status onto the payout record lifecycle.
// Non-final exchange states keep the record processing.
func (s Status) PayoutStatus() domain.PayoutStatus {
	switch s {
	case StatusCompleted:
		return domain.PayoutCompleted
	case StatusFailed:
		return domain.PayoutFailed
	default:
		return domain.PayoutProcessing
	}
}

// WithdrawRequest describes one outbound transfer. ClientRef is the payout
// record id and lets the exchange deduplicate retried submissions.
type WithdrawRequest struct {
	UserID    string
	Address   string
	Amount    decimal.Decimal
	Currency  domain.Currency
	ClientRef string
}

// Gateway is the opaque withdraw/status/price contract of the exchange.
type Gateway interface {
	Withdraw(ctx context.Context, req WithdrawRequest) (string, error)
	CheckStatus(ctx context.Context, txID string) (Status, error)
	// CurrentPrice never fails; it falls back to a fixed quote.
	CurrentPrice(ctx context.Context, currency domain.Currency) float64
	// Configured is false when withdrawals can never succeed.
	Configured() bool
}

// DefaultFallbackPrices are served when the price feed is unreachable and no
// override is configured.
var DefaultFallbackPrices = map[domain.Currency]float64{
	domain.CurrencyBTC: 65000,
	domain.CurrencyETH: 3200,
}

// FallbackPrices merges configured overrides (keyed by ticker) over the defaults.
func FallbackPrices(overrides map[string]float64) map[domain.Currency]float64 {
	prices := make(map[domain.Currency]float64, len(DefaultFallbackPrices))
	for c, p := range DefaultFallbackPrices {
		prices[c] = p
	}
	for ticker, p := range overrides {
		c, err := domain.ParseCurrency(ticker)
		if err != nil || p <= 0 {
			continue
		}
		prices[c] = p
	}
	return prices
}
