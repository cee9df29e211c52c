package payout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/pkg/config"
)

const (
	defaultWithdrawTimeout = 20 * time.Second
	defaultDrainTimeout    = 10 * time.Second
)

// Policy is the hot-reloadable part of the payout configuration.
type Policy struct {
	Thresholds       map[domain.Currency]decimal.Decimal
	RestoreOnReject  bool
	WithdrawTimeout  time.Duration
	DrainTimeout     time.Duration
	StatusCheckDelay time.Duration
}

func PolicyFromConfig(cfg config.PayoutConfig) Policy {
	p := Policy{
		Thresholds: map[domain.Currency]decimal.Decimal{
			domain.PrimaryCurrency:   domain.RoundAmount(decimal.NewFromFloat(cfg.DefaultThreshold)),
			domain.SecondaryCurrency: domain.RoundAmount(decimal.NewFromFloat(cfg.SecondaryThreshold)),
		},
		RestoreOnReject:  cfg.RestoreOnReject,
		WithdrawTimeout:  cfg.WithdrawTimeout,
		DrainTimeout:     cfg.DrainTimeout,
		StatusCheckDelay: cfg.StatusCheckDelay,
	}
	if p.WithdrawTimeout <= 0 {
		p.WithdrawTimeout = defaultWithdrawTimeout
	}
	if p.DrainTimeout <= 0 {
		p.DrainTimeout = defaultDrainTimeout
	}
	return p
}

// ThresholdFor returns the user's own threshold, or the default when unset.
func (p Policy) ThresholdFor(u *domain.User, currency domain.Currency) decimal.Decimal {
	if t := u.Threshold(currency); t.IsPositive() {
		return t
	}
	return p.Thresholds[currency]
}
