package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannel struct {
	closed atomic.Bool
}

func (f *fakeChannel) Send(context.Context, any) error { return nil }

func (f *fakeChannel) Close() error {
	f.closed.Store(true)
	return nil
}

func TestRegistry_LastWriterWins(t *testing.T) {
	r := New(testLogger())

	first := &fakeChannel{}
	second := &fakeChannel{}

	h1 := r.Register("alice", first)
	require.True(t, r.SetActive(h1, true))

	h2 := r.Register("alice", second)

	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())
	assert.False(t, h1.Active())
	assert.Equal(t, 1, r.Count())

	current, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, h2, current)

	assert.False(t, r.SetActive(h1, true), "stale handle must not be reactivated")
	assert.False(t, r.Unregister(h1), "stale handle must not evict its replacement")
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_ActiveSnapshot(t *testing.T) {
	r := New(testLogger())

	a := r.Register("alice", &fakeChannel{})
	b := r.Register("bob", &fakeChannel{})
	r.Register("carol", &fakeChannel{})

	r.SetActive(a, true)
	r.SetActive(b, true)
	r.SetActive(b, false)

	var seen []string
	r.ForEachActive(func(h *Handle) {
		seen = append(seen, h.UserID)
		r.Register("dave", &fakeChannel{})
	})

	assert.Equal(t, []string{"alice"}, seen)
	assert.Equal(t, 1, r.ActiveCount())
	assert.Equal(t, 4, r.Count())
}

func TestRegistry_UnregisterAndCloseAll(t *testing.T) {
	r := New(testLogger())

	ch := &fakeChannel{}
	h := r.Register("alice", ch)
	assert.True(t, r.Unregister(h))
	assert.False(t, r.Unregister(h))
	_, ok := r.Lookup("alice")
	assert.False(t, ok)

	channels := make([]*fakeChannel, 3)
	for i := range channels {
		channels[i] = &fakeChannel{}
		r.Register(fmt.Sprintf("user-%d", i), channels[i])
	}
	r.CloseAll()

	assert.Zero(t, r.Count())
	for _, c := range channels {
		assert.True(t, c.closed.Load())
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := r.Register(fmt.Sprintf("user-%d", i%4), &fakeChannel{})
			r.SetActive(h, true)
			r.ForEachActive(func(*Handle) {})
			if i%3 == 0 {
				r.Unregister(h)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Count(), 4)
}

func TestRegistry_Drop(t *testing.T) {
	r := New(testLogger())

	ch := &fakeChannel{}
	h := r.Register("alice", ch)
	r.SetActive(h, true)

	r.Drop(h)

	assert.True(t, ch.closed.Load())
	assert.Zero(t, r.Count())
	assert.Zero(t, r.ActiveCount())
}
