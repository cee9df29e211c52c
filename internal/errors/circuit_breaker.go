package errors

import (
	"errors"
	"sync"
	"time"
)

const (
	ErrorThreshold      = 0.5
	MinRequests         = 10
	TimeoutDuration     = 30 * time.Second
	HalfOpenMaxRequests = 3
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

var (
	ErrCircuitOpen             = errors.New("circuit breaker is open")
	ErrHalfOpenTooManyRequests = errors.New("too many requests in half-open")
)

// BreakerSettings tunes when the breaker trips and how long it stays open.
// Zero fields fall back to the package defaults.
type BreakerSettings struct {
	ErrorThreshold      float64
	MinRequests         int
	OpenTimeout         time.Duration
	HalfOpenMaxRequests int
	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange observes transitions, e.g. to export a gauge.
	OnStateChange func(from, to State)
}

type CircuitBreaker struct {
	mu              sync.Mutex
	settings        BreakerSettings
	state           State
	failures        int
	successes       int
	requests        int
	lastFailureTime time.Time
	now             func() time.Time
}

func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithSettings(BreakerSettings{})
}

func NewCircuitBreakerWithSettings(settings BreakerSettings) *CircuitBreaker {
	if settings.ErrorThreshold <= 0 {
		settings.ErrorThreshold = ErrorThreshold
	}
	if settings.MinRequests <= 0 {
		settings.MinRequests = MinRequests
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = TimeoutDuration
	}
	if settings.HalfOpenMaxRequests <= 0 {
		settings.HalfOpenMaxRequests = HalfOpenMaxRequests
	}

	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) >= cb.settings.OpenTimeout {
			cb.setStateLocked(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen && cb.requests >= cb.settings.HalfOpenMaxRequests {
		cb.mu.Unlock()
		return ErrHalfOpenTooManyRequests
	}
	cb.requests++
	cb.mu.Unlock()

	callErr := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr != nil && cb.isFailure(callErr) {
		cb.failures++

		if cb.state == StateHalfOpen {
			cb.setStateLocked(StateOpen)
		} else {
			cb.evaluateStateLocked()
		}

		return callErr
	}

	cb.successes++

	if cb.state == StateHalfOpen && cb.successes >= cb.settings.HalfOpenMaxRequests {
		cb.setStateLocked(StateClosed)
	}

	return callErr
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if cb.settings.IsFailure == nil {
		return true
	}
	return cb.settings.IsFailure(err)
}

func (cb *CircuitBreaker) evaluateStateLocked() {
	if cb.requests < cb.settings.MinRequests {
		return
	}

	errorRate := float64(cb.failures) / float64(cb.requests)
	if errorRate >= cb.settings.ErrorThreshold {
		cb.setStateLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) setStateLocked(next State) {
	prev := cb.state
	cb.state = next
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
	if next == StateOpen {
		cb.lastFailureTime = cb.now()
	}

	if prev != next && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(prev, next)
	}
}
