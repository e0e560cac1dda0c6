package resilience

import (
	"sync"
	"time"

	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a per-backend circuit breaker. Closed passes calls through and
// counts consecutive failures; Open fails fast until the cooldown elapses;
// Half-Open admits a single probe call whose outcome decides the next state.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. It returns ErrBackendUnavailable
// without touching the network when the circuit is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return appErr.Unavailablef("circuit open")
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	default: // half-open: one probe in flight at a time
		if b.probing {
			return appErr.Unavailablef("circuit half-open, probe in flight")
		}
		b.probing = true
		return nil
	}
}

// Record feeds the outcome of an allowed call back into the state machine.
// Only transient failures count against the breaker; validation and not-found
// results leave it untouched.
func (b *Breaker) Record(err error) {
	transient := err != nil && appErr.IsUnavailable(err)
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		if !transient {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case StateHalfOpen:
		b.probing = false
		if transient {
			b.trip()
			return
		}
		b.state = StateClosed
		b.failures = 0
	case StateOpen:
		// Late result from a call admitted before the trip; ignore.
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probing = false
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
