package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
)

type account struct {
	mu       sync.Mutex
	balances map[domain.Currency]decimal.Decimal
}

// MemoryLedger keeps balances in process memory with one mutex per user, so
// unrelated users never contend.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string]*account)}
}

func (l *MemoryLedger) account(userID string) *account {
	l.mu.RLock()
	acc := l.accounts[userID]
	l.mu.RUnlock()
	if acc != nil {
		return acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if acc = l.accounts[userID]; acc == nil {
		acc = &account{balances: make(map[domain.Currency]decimal.Decimal)}
		l.accounts[userID] = acc
	}
	return acc
}

func (l *MemoryLedger) Credit(_ context.Context, userID string, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateCredit(currency, amount); err != nil {
		return decimal.Zero, err
	}

	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	next := acc.balances[currency].Add(domain.RoundAmount(amount))
	acc.balances[currency] = next
	return next, nil
}

func (l *MemoryLedger) ResetIfAtLeast(_ context.Context, userID string, currency domain.Currency, threshold decimal.Decimal) (decimal.Decimal, bool, error) {
	if err := validateCurrency(currency); err != nil {
		return decimal.Zero, false, err
	}

	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	prior := acc.balances[currency]
	if !shouldReset(prior, threshold) {
		return prior, false, nil
	}

	acc.balances[currency] = decimal.Zero
	return prior, true, nil
}

func (l *MemoryLedger) Balance(_ context.Context, userID string, currency domain.Currency) (decimal.Decimal, error) {
	if err := validateCurrency(currency); err != nil {
		return decimal.Zero, err
	}

	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	return acc.balances[currency], nil
}
