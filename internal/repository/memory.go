package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/hashpay/internal/domain"
)

// MemoryUserRepository keeps profiles in process memory. It backs local runs
// without PostgreSQL and the package tests of the pipeline.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	now   func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*domain.User), now: time.Now}
}

func (r *MemoryUserRepository) Get(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *MemoryUserRepository) Ensure(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	if _, ok := r.users[id]; !ok {
		now := r.now().UTC()
		r.users[id] = &domain.User{ID: id, CreatedAt: now, UpdatedAt: now}
	}
	r.mu.Unlock()

	return r.Get(ctx, id)
}

func (r *MemoryUserRepository) UpdatePayoutSettings(_ context.Context, id string, settings domain.PayoutSettings) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	settings.Apply(user)
	user.UpdatedAt = r.now().UTC()

	clone := *user
	return &clone, nil
}

func (r *MemoryUserRepository) ListWithPayoutAddress(_ context.Context) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*domain.User, 0, len(r.users))
	for _, user := range r.users {
		if !user.HasPayoutAddress() {
			continue
		}
		clone := *user
		users = append(users, &clone)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// MemoryPayoutRepository keeps payout records in process memory.
type MemoryPayoutRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.PayoutRecord
	order   []string
	now     func() time.Time
}

func NewMemoryPayoutRepository() *MemoryPayoutRepository {
	return &MemoryPayoutRepository{records: make(map[string]*domain.PayoutRecord), now: time.Now}
}

func (r *MemoryPayoutRepository) Create(_ context.Context, rec *domain.PayoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *rec
	r.records[rec.ID] = &clone
	r.order = append(r.order, rec.ID)
	return nil
}

func (r *MemoryPayoutRepository) Get(_ context.Context, id string) (*domain.PayoutRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *MemoryPayoutRepository) AttachTransaction(_ context.Context, id, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrPayoutNotFound
	}
	if rec.TransactionID != "" {
		return ErrStatusConflict
	}
	rec.TransactionID = txID
	rec.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryPayoutRepository) UpdateStatus(_ context.Context, id string, update StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrPayoutNotFound
	}
	if rec.Status != update.From {
		return ErrStatusConflict
	}

	rec.Status = update.To
	if update.TransactionID != "" {
		rec.TransactionID = update.TransactionID
	}
	rec.Error = update.Error
	rec.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryPayoutRepository) ListByUser(_ context.Context, userID string, limit int) ([]*domain.PayoutRecord, error) {
	return r.filter(normalizeLimit(limit), true, func(rec *domain.PayoutRecord) bool {
		return rec.UserID == userID
	}), nil
}

func (r *MemoryPayoutRepository) ListByStatus(_ context.Context, status domain.PayoutStatus, createdBefore time.Time, limit int) ([]*domain.PayoutRecord, error) {
	return r.filter(normalizeLimit(limit), false, func(rec *domain.PayoutRecord) bool {
		return rec.Status == status && rec.CreatedAt.Before(createdBefore)
	}), nil
}

func (r *MemoryPayoutRepository) filter(limit int, newestFirst bool, keep func(*domain.PayoutRecord) bool) []*domain.PayoutRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.PayoutRecord, 0)
	for i := range r.order {
		idx := i
		if newestFirst {
			idx = len(r.order) - 1 - i
		}
		rec := r.records[r.order[idx]]
		if !keep(rec) {
			continue
		}
		clone := *rec
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out
}

// MemoryActivityRepository is an append-only in-memory activity log.
type MemoryActivityRepository struct {
	mu      sync.RWMutex
	entries []*domain.ActivityLogEntry
}

func NewMemoryActivityRepository() *MemoryActivityRepository {
	return &MemoryActivityRepository{}
}

func (r *MemoryActivityRepository) Append(_ context.Context, entry *domain.ActivityLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *entry
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *MemoryActivityRepository) ListByUser(_ context.Context, userID string, limit int) ([]*domain.ActivityLogEntry, error) {
	limit = normalizeLimit(limit)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ActivityLogEntry, 0)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID != userID {
			continue
		}
		clone := *r.entries[i]
		out = append(out, &clone)
	}
	return out, nil
}
