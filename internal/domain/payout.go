package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus tracks a payout from the moment the balance was consumed.
type PayoutStatus string

const (
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	// PayoutUnknown marks a withdrawal whose gateway call was cut short; it
	// needs reconciliation before the outcome is known.
	PayoutUnknown PayoutStatus = "unknown"
)

// Final reports whether no further transition is expected.
func (s PayoutStatus) Final() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

// PayoutSource names the path that detected the threshold crossing.
type PayoutSource string

const (
	SourceBroadcast PayoutSource = "broadcast"
	SourcePoller    PayoutSource = "poller"
)

// PayoutRecord is the durable trail of one withdrawal. UserID, Currency,
// Amount and Address never change after creation.
type PayoutRecord struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Currency      Currency        `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Address       string          `json:"address"`
	Status        PayoutStatus    `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Source        PayoutSource    `json:"source"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
