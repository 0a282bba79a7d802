package users

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen indicates the breaker is rejecting calls without attempting them.
var ErrBreakerOpen = errors.New("users: circuit breaker open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// BreakerPolicy configures when the breaker trips and how long it stays open.
type BreakerPolicy struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker rejects calls before allowing a probe.
	Cooldown time.Duration
}

func (p BreakerPolicy) withDefaults() BreakerPolicy {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = defaultFailureThreshold
	}
	if p.Cooldown <= 0 {
		p.Cooldown = defaultCooldown
	}
	return p
}

// Breaker is an explicit circuit breaker guarding calls to the users service.
// Closed passes calls through and counts consecutive failures. Open rejects
// immediately until the cooldown elapses, after which a single probe is
// allowed; a successful probe closes the breaker again.
type Breaker struct {
	policy BreakerPolicy
	now    func() time.Time

	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
	probation bool
}

// BreakerOption customises Breaker construction.
type BreakerOption func(*Breaker)

// WithBreakerClock injects a custom clock primarily for tests.
func WithBreakerClock(clock func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if clock != nil {
			b.now = clock
		}
	}
}

// NewBreaker constructs a Breaker with the given policy.
func NewBreaker(policy BreakerPolicy, opts ...BreakerOption) *Breaker {
	breaker := &Breaker{
		policy: policy.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(breaker)
		}
	}
	return breaker
}

// Allow reports whether a call may proceed. Callers must follow up with
// Success or Failure when Allow returns nil.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.policy.Cooldown {
			return ErrBreakerOpen
		}
		b.state = breakerHalfOpen
		b.probation = true
		return nil
	case breakerHalfOpen:
		if b.probation {
			return ErrBreakerOpen
		}
		b.probation = true
		return nil
	default:
		return nil
	}
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.probation = false
}

// Failure records a failed call, opening the breaker when the threshold is hit.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.trip()
		return
	}

	b.failures++
	if b.failures >= b.policy.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = breakerOpen
	b.failures = 0
	b.probation = false
	b.openedAt = b.now()
}
