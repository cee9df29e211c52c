package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/hashpay/internal/domain"
	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/pkg/metrics"
)

// Breaker stops sending withdrawals to an exchange that keeps failing.
// Rejections are business answers and do not count against the circuit.
type Breaker struct {
	next Gateway
	cb   *apperrors.CircuitBreaker
	log  *slog.Logger
}

var _ Gateway = (*Breaker)(nil)

func NewBreaker(next Gateway, log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}

	b := &Breaker{next: next, log: log}
	b.cb = apperrors.NewCircuitBreakerWithSettings(apperrors.BreakerSettings{
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrRejected) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(from, to apperrors.State) {
			metrics.SetGatewayCircuitState(int(to))
			log.Warn("gateway circuit changed", slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return b
}

func (b *Breaker) Withdraw(ctx context.Context, req WithdrawRequest) (string, error) {
	var txID string
	err := b.cb.Call(func() error {
		var err error
		txID, err = b.next.Withdraw(ctx, req)
		return err
	})

	if errors.Is(err, apperrors.ErrCircuitOpen) || errors.Is(err, apperrors.ErrHalfOpenTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return txID, err
}

func (b *Breaker) CheckStatus(ctx context.Context, txID string) (Status, error) {
	return b.next.CheckStatus(ctx, txID)
}

func (b *Breaker) CurrentPrice(ctx context.Context, currency domain.Currency) float64 {
	return b.next.CurrentPrice(ctx, currency)
}

func (b *Breaker) Configured() bool {
	return b.next.Configured()
}

// State exposes the circuit state for health checks.
func (b *Breaker) State() apperrors.State {
	return b.cb.State()
}
