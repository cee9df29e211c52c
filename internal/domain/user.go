package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the payout profile of a dashboard user. Balances are owned by the
// ledger; the remaining fields change only through explicit profile updates.
type User struct {
	ID                 string          `json:"id"`
	Balance            decimal.Decimal `json:"balance"`
	PayoutAddress      string          `json:"payout_address,omitempty"`
	PayoutThreshold    decimal.Decimal `json:"payout_threshold"`
	SecondaryBalance   decimal.Decimal `json:"secondary_balance"`
	SecondaryAddress   string          `json:"secondary_address,omitempty"`
	SecondaryThreshold decimal.Decimal `json:"secondary_threshold"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Address returns the payout destination for currency, empty when unset.
func (u *User) Address(currency Currency) string {
	if currency == SecondaryCurrency {
		return u.SecondaryAddress
	}
	return u.PayoutAddress
}

// Threshold returns the user's configured threshold for currency, zero when unset.
func (u *User) Threshold(currency Currency) decimal.Decimal {
	if currency == SecondaryCurrency {
		return u.SecondaryThreshold
	}
	return u.PayoutThreshold
}

// BalanceOf returns the stored balance for currency.
func (u *User) BalanceOf(currency Currency) decimal.Decimal {
	if currency == SecondaryCurrency {
		return u.SecondaryBalance
	}
	return u.Balance
}

// HasPayoutAddress reports whether any currency has a destination configured.
func (u *User) HasPayoutAddress() bool {
	return u.PayoutAddress != "" || u.SecondaryAddress != ""
}

// PayoutSettings is a partial update of a user's payout configuration. Nil
// fields are left untouched; an empty address clears it.
type PayoutSettings struct {
	PayoutAddress      *string
	PayoutThreshold    *decimal.Decimal
	SecondaryAddress   *string
	SecondaryThreshold *decimal.Decimal
}

// Empty reports whether the update changes nothing.
func (s PayoutSettings) Empty() bool {
	return s.PayoutAddress == nil && s.PayoutThreshold == nil && s.SecondaryAddress == nil && s.SecondaryThreshold == nil
}

// Apply copies the set fields onto u.
func (s PayoutSettings) Apply(u *User) {
	if s.PayoutAddress != nil {
		u.PayoutAddress = *s.PayoutAddress
	}
	if s.PayoutThreshold != nil {
		u.PayoutThreshold = *s.PayoutThreshold
	}
	if s.SecondaryAddress != nil {
		u.SecondaryAddress = *s.SecondaryAddress
	}
	if s.SecondaryThreshold != nil {
		u.SecondaryThreshold = *s.SecondaryThreshold
	}
}
