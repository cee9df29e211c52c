package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
)

const balanceKeyPattern = "ledger:balance:%s:%s"

// resetScript zeroes the balance only when it is positive and at least
// ARGV[1]. It returns the prior balance, or -1 when nothing changed.
var resetScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return -1
end
local balance = tonumber(raw)
if balance <= 0 or balance < tonumber(ARGV[1]) then
	return -1
end
redis.call('SET', KEYS[1], 0)
return balance
`)

// RedisLedger stores balances as integer base units (1e-8) so INCRBY and the
// reset script operate on exact values.
type RedisLedger struct {
	client *redis.Client
	log    *slog.Logger
}

var _ Ledger = (*RedisLedger)(nil)

func NewRedisLedger(client *redis.Client, log *slog.Logger) *RedisLedger {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLedger{client: client, log: log}
}

func balanceKey(userID string, currency domain.Currency) string {
	return fmt.Sprintf(balanceKeyPattern, userID, currency)
}

func toUnits(d decimal.Decimal) int64 {
	return d.Shift(domain.AmountPlaces).IntPart()
}

func fromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -domain.AmountPlaces)
}

func (l *RedisLedger) Credit(ctx context.Context, userID string, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateCredit(currency, amount); err != nil {
		return decimal.Zero, err
	}

	units, err := l.client.IncrBy(ctx, balanceKey(userID, currency), toUnits(amount)).Result()
	if err != nil {
		l.log.Error("ledger credit failed", slog.String("user_id", userID), slog.String("currency", currency.String()), slog.Any("error", err))
		return decimal.Zero, fmt.Errorf("incr balance: %w", err)
	}

	return fromUnits(units), nil
}

func (l *RedisLedger) ResetIfAtLeast(ctx context.Context, userID string, currency domain.Currency, threshold decimal.Decimal) (decimal.Decimal, bool, error) {
	if err := validateCurrency(currency); err != nil {
		return decimal.Zero, false, err
	}

	prior, err := resetScript.Run(ctx, l.client, []string{balanceKey(userID, currency)}, toUnits(threshold)).Int64()
	if err != nil {
		l.log.Error("ledger reset failed", slog.String("user_id", userID), slog.String("currency", currency.String()), slog.Any("error", err))
		return decimal.Zero, false, fmt.Errorf("reset balance: %w", err)
	}

	if prior < 0 {
		balance, err := l.Balance(ctx, userID, currency)
		return balance, false, err
	}

	return fromUnits(prior), true, nil
}

func (l *RedisLedger) Balance(ctx context.Context, userID string, currency domain.Currency) (decimal.Decimal, error) {
	if err := validateCurrency(currency); err != nil {
		return decimal.Zero, err
	}

	units, err := l.client.Get(ctx, balanceKey(userID, currency)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}

	return fromUnits(units), nil
}
