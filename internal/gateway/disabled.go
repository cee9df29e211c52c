package gateway

import (
	"context"

	"github.com/Proton-105/hashpay/internal/domain"
)

// Disabled stands in for the exchange when no credentials are configured.
// Withdrawals report ErrUnavailable and prices come from the fallback table.
type Disabled struct {
	fallback map[domain.Currency]float64
}

var _ Gateway = (*Disabled)(nil)

func NewDisabled(fallback map[domain.Currency]float64) *Disabled {
	if fallback == nil {
		fallback = DefaultFallbackPrices
	}
	return &Disabled{fallback: fallback}
}

func (d *Disabled) Withdraw(context.Context, WithdrawRequest) (string, error) {
	return "", ErrUnavailable
}

func (d *Disabled) CheckStatus(context.Context, string) (Status, error) {
	return StatusUnknown, ErrUnavailable
}

func (d *Disabled) CurrentPrice(_ context.Context, currency domain.Currency) float64 {
	return d.fallback[currency]
}

func (d *Disabled) Configured() bool {
	return false
}
