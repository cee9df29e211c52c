// Package usercache keeps payout profiles in Redis so the admin API does not
// hit PostgreSQL on every read.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
)

const keyPattern = "user:profile:%s"

// Cache stores profiles without balances; balances are always read from the
// ledger. A nil Cache is valid and caches nothing.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns nil without error on a miss.
func (c *Cache) Get(ctx context.Context, userID string) (*domain.User, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}

	return &user, nil
}

func (c *Cache) Set(ctx context.Context, user *domain.User) error {
	if c == nil || c.client == nil || user == nil {
		return nil
	}

	profile := *user
	profile.Balance = decimal.Zero
	profile.SecondaryBalance = decimal.Zero

	payload, err := json.Marshal(&profile)
	if err != nil {
		return fmt.Errorf("encode user for cache: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(user.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached user: %w", err)
	}

	return nil
}

func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete cached user: %w", err)
	}

	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf(keyPattern, userID)
}
