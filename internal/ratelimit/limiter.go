// Package ratelimit implements sliding-window request limits for the admin API.
package ratelimit

import (
	"context"
	"time"
)

const keyPrefix = "ratelimit:"

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees up.
func (r *Result) RetryAfter(now time.Time) int {
	if r == nil || !r.ResetAt.After(now) {
		return 1
	}
	secs := int(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter describes a rate-limiting strategy. A denied request is reported
// through Result.Allowed; errors mean the backend could not decide.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}
