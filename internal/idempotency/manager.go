// Package idempotency replays the stored response of a request that is
// retried with the same client supplied key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultLockTTL = time.Minute
	pollInterval   = 100 * time.Millisecond
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

// Response is the replayable part of an HTTP response.
type Response struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Cacheable reports whether the response is final for its key. Server errors
// are not, so the client may retry them.
func (r Response) Cacheable() bool {
	return r.StatusCode > 0 && r.StatusCode < 500
}

// Operation performs the keyed request exactly once.
type Operation func(ctx context.Context) (Response, error)

type Result struct {
	Response  Response
	FromCache bool
}

type Manager struct {
	store   Store
	lockTTL time.Duration
	log     *slog.Logger
}

func NewManager(store Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, lockTTL: defaultLockTTL, log: log}
}

// Execute runs fn under key unless a completed response is stored, in which
// case that response is returned. A concurrent holder of the same key yields
// ErrRequestInProgress.
func (m *Manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	for {
		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if record != nil && record.Status == StatusCompleted {
			return &Result{Response: record.Response, FromCache: true}, nil
		}

		locked, err := m.store.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return nil, err
		}
		if locked {
			return m.run(ctx, key, ttl, fn)
		}
		if record != nil && record.Status == StatusProcessing {
			return nil, ErrRequestInProgress
		}

		// The holder has not written its marker yet.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *Manager) run(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			m.log.Warn("idempotency lock not released", slog.String("key", key), slog.Any("error", err))
		}
	}()

	if err := m.store.Set(ctx, key, &Record{Status: StatusProcessing}, m.lockTTL); err != nil {
		return nil, err
	}

	resp, err := fn(ctx)
	if err != nil || !resp.Cacheable() {
		m.forget(ctx, key)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp}, nil
	}

	if err := m.store.Set(context.WithoutCancel(ctx), key, &Record{Status: StatusCompleted, Response: resp}, ttl); err != nil {
		m.log.Error("idempotent response not stored", slog.String("key", key), slog.Any("error", err))
	}
	return &Result{Response: resp}, nil
}

// forget drops the processing marker so a retry runs again.
func (m *Manager) forget(ctx context.Context, key string) {
	if err := m.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		m.log.Warn("idempotency marker not cleared", slog.String("key", key), slog.Any("error", err))
	}
}

// GenerateKey builds a deterministic key using all provided parts.
func GenerateKey(parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v:", part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
