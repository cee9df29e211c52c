// Package registry tracks the live push connection of every user.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Channel is the outbound side of a push connection.
type Channel interface {
	Send(ctx context.Context, msg any) error
	Close() error
}

// Handle is one registered connection. A user has at most one current handle;
// a newer registration supersedes the older one.
type Handle struct {
	id     uint64
	UserID string
	ch     Channel
	active atomic.Bool
}

func (h *Handle) ID() uint64 {
	return h.id
}

// Send pushes msg over the underlying channel.
func (h *Handle) Send(ctx context.Context, msg any) error {
	return h.ch.Send(ctx, msg)
}

// Active reports whether the user asked for mining updates.
func (h *Handle) Active() bool {
	return h.active.Load()
}

// Registry maps user ids to their current connection.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	nextID  atomic.Uint64
	log     *slog.Logger
}

func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		handles: make(map[string]*Handle),
		log:     log,
	}
}

// Register makes ch the user's current connection. Any previous connection
// for the same user is closed: last writer wins.
func (r *Registry) Register(userID string, ch Channel) *Handle {
	h := &Handle{id: r.nextID.Add(1), UserID: userID, ch: ch}

	r.mu.Lock()
	prev := r.handles[userID]
	r.handles[userID] = h
	r.mu.Unlock()

	if prev != nil {
		r.log.Info("connection superseded", slog.String("user_id", userID), slog.Uint64("previous", prev.id), slog.Uint64("current", h.id))
		prev.active.Store(false)
		if err := prev.ch.Close(); err != nil {
			r.log.Debug("failed to close superseded connection", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	return h
}

// SetActive toggles streaming for h. It reports false when h is no longer the
// user's current handle.
func (r *Registry) SetActive(h *Handle, active bool) bool {
	r.mu.RLock()
	current := r.handles[h.UserID] == h
	r.mu.RUnlock()

	if !current {
		return false
	}
	h.active.Store(active)
	return true
}

// Unregister removes h if it is still current. A stale handle never evicts
// its replacement.
func (r *Registry) Unregister(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handles[h.UserID] != h {
		return false
	}
	h.active.Store(false)
	delete(r.handles, h.UserID)
	return true
}

// Drop unregisters h and closes its channel. Used when a send fails.
func (r *Registry) Drop(h *Handle) {
	removed := r.Unregister(h)
	if err := h.ch.Close(); err != nil {
		r.log.Debug("failed to close dropped connection", slog.String("user_id", h.UserID), slog.Any("error", err))
	}
	if removed {
		r.log.Info("connection dropped", slog.String("user_id", h.UserID), slog.Uint64("handle", h.id))
	}
}

// Lookup returns the current handle for userID.
func (r *Registry) Lookup(userID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[userID]
	return h, ok
}

// Active returns a snapshot of the active handles. Registrations made after
// the call are not included.
func (r *Registry) Active() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		if h.active.Load() {
			out = append(out, h)
		}
	}
	return out
}

// ForEachActive calls fn for every handle in an Active snapshot. fn runs
// without the registry lock held, so it may register or unregister.
func (r *Registry) ForEachActive(fn func(h *Handle)) {
	for _, h := range r.Active() {
		fn(h)
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Registry) ActiveCount() int {
	return len(r.Active())
}

// CloseAll closes and forgets every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.active.Store(false)
		if err := h.ch.Close(); err != nil {
			r.log.Debug("failed to close connection", slog.String("user_id", h.UserID), slog.Any("error", err))
		}
	}
}
