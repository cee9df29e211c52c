package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
)

const (
	resetLockKeyPattern = "ledger:lock:%s:%s"
	defaultLockTTL      = 10 * time.Second
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder never frees a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locked serializes ResetIfAtLeast for a user across processes with a Redis
// lock. When the lock is taken the call reports no reset; the holder is
// already settling that balance.
type Locked struct {
	next   Ledger
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

var _ Ledger = (*Locked)(nil)

func NewLocked(next Ledger, client *redis.Client, ttl time.Duration, log *slog.Logger) *Locked {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &Locked{next: next, client: client, ttl: ttl, log: log}
}

func (l *Locked) Credit(ctx context.Context, userID string, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.next.Credit(ctx, userID, currency, amount)
}

func (l *Locked) Balance(ctx context.Context, userID string, currency domain.Currency) (decimal.Decimal, error) {
	return l.next.Balance(ctx, userID, currency)
}

func (l *Locked) ResetIfAtLeast(ctx context.Context, userID string, currency domain.Currency, threshold decimal.Decimal) (decimal.Decimal, bool, error) {
	key := fmt.Sprintf(resetLockKeyPattern, userID, currency)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		l.log.Error("failed to acquire ledger lock", slog.String("user_id", userID), slog.Any("error", err))
		return decimal.Zero, false, fmt.Errorf("acquire ledger lock: %w", err)
	}

	if !acquired {
		l.log.Debug("ledger lock held elsewhere", slog.String("user_id", userID), slog.String("currency", currency.String()))
		balance, err := l.next.Balance(ctx, userID, currency)
		return balance, false, err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Error("failed to release ledger lock", slog.String("user_id", userID), slog.Any("error", err))
		}
	}()

	return l.next.ResetIfAtLeast(ctx, userID, currency, threshold)
}
