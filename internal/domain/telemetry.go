package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TelemetrySample is one synthetic reading of a user's mining rig.
type TelemetrySample struct {
	HashrateTHs       float64         `json:"hashrate"`
	PowerWatts        float64         `json:"power"`
	TemperatureC      float64         `json:"temperature"`
	Earnings          decimal.Decimal `json:"earnings"`
	SecondaryEarnings decimal.Decimal `json:"secondary_earnings"`
	AcceptedShares    int             `json:"accepted_shares"`
	RejectedShares    int             `json:"rejected_shares"`
	Timestamp         time.Time       `json:"timestamp"`
}

// EarningsFor returns the delta to credit for currency.
func (s TelemetrySample) EarningsFor(currency Currency) decimal.Decimal {
	if currency == SecondaryCurrency {
		return s.SecondaryEarnings
	}
	return s.Earnings
}
