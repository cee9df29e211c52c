package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner periodically scans rate-limit keys and removes entries older than
// the longest window. Keys normally expire on their own; this catches keys
// whose TTL was lost.
type Cleaner struct {
	redisClient redis.Cmdable
	log         *slog.Logger
	interval    time.Duration
	maxWindow   time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(client redis.Cmdable, interval, maxWindow time.Duration, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		redisClient: client,
		log:         log,
		interval:    interval,
		maxWindow:   maxWindow,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.redisClient == nil || c.interval <= 0 || c.maxWindow <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.log != nil {
				c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			}
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup runs one pass and returns the number of keys removed.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	const pattern = keyPrefix + "*"
	const scanCount = 100

	// Scores are unix milliseconds, matching RedisLimiter.
	cutoff := time.Now().Add(-c.maxWindow).UnixMilli()
	var cursor uint64
	cleaned := 0

	for {
		keys, nextCursor, err := c.redisClient.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			if c.log != nil {
				c.log.Error("rate limit scan failed", slog.Any("error", err))
			}
			return cleaned
		}

		for _, key := range keys {
			pipe := c.redisClient.TxPipeline()
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
			cardCmd := pipe.ZCard(ctx, key)
			if _, err := pipe.Exec(ctx); err != nil {
				if c.log != nil {
					c.log.Warn("cleanup pipeline failed", slog.String("key", key), slog.Any("error", err))
				}
				continue
			}

			count, err := cardCmd.Result()
			if err != nil {
				if c.log != nil {
					c.log.Warn("failed to read zset cardinality", slog.String("key", key), slog.Any("error", err))
				}
				continue
			}

			if count == 0 {
				if err := c.redisClient.Del(ctx, key).Err(); err != nil {
					if c.log != nil {
						c.log.Warn("failed to delete empty rate limit key", slog.String("key", key), slog.Any("error", err))
					}
					continue
				}
				cleaned++
			}
		}

		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}

	if cleaned > 0 {
		c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", cleaned))
	}
	return cleaned
}
