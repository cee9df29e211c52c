package payout

import (
	"fmt"

	"github.com/Proton-105/hashpay/internal/domain"
)

var transitions = map[domain.PayoutStatus][]domain.PayoutStatus{
	domain.PayoutProcessing: {domain.PayoutCompleted, domain.PayoutFailed, domain.PayoutUnknown},
	domain.PayoutUnknown:    {domain.PayoutCompleted, domain.PayoutFailed},
}

// CanTransition reports whether a record may move from one status to another.
// Completed and failed are terminal.
func CanTransition(from, to domain.PayoutStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validateTransition(from, to domain.PayoutStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("payout transition %s -> %s is not allowed", from, to)
	}
	return nil
}
