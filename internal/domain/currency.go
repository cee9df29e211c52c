package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies an asset the ledger tracks and the gateway pays out.
type Currency string

const (
	CurrencyBTC Currency = "BTC"
	CurrencyETH Currency = "ETH"
)

// Primary and secondary currencies are evaluated independently by the payout pipeline.
const (
	PrimaryCurrency   = CurrencyBTC
	SecondaryCurrency = CurrencyETH
)

// AmountPlaces is the fixed scale used for every balance and payout amount.
const AmountPlaces = 8

// Currencies lists every currency a user can hold, primary first.
func Currencies() []Currency {
	return []Currency{PrimaryCurrency, SecondaryCurrency}
}

// ParseCurrency accepts a case-insensitive ticker.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CurrencyBTC, CurrencyETH:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", s)
	}
}

func (c Currency) String() string {
	return string(c)
}

// RoundAmount truncates d to the ledger scale.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(AmountPlaces)
}
