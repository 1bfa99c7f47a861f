package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// CoolDown is how long the circuit stays open before probing.
	CoolDown time.Duration
	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to BreakerState)
}

// Breaker is a minimal consecutive-failure circuit breaker. The search
// adapters wrap each upstream provider in one so a flapping upstream stops
// burning retries for the cool-down window.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a breaker with defaults applied.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 60 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: BreakerClosed}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State reports the current state, accounting for cool-down expiry.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Execute runs op if the circuit allows it and records the outcome.
func (b *Breaker) Execute(op func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op()
	b.after(err == nil)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentState(time.Now()) == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(time.Now())
	if success {
		b.failures = 0
		if state == BreakerHalfOpen {
			b.setState(BreakerClosed)
		}
		return
	}

	b.failures++
	if state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = time.Now()
		b.setState(BreakerOpen)
	}
}

// currentState must be called with the lock held.
func (b *Breaker) currentState(now time.Time) BreakerState {
	if b.state == BreakerOpen && now.Sub(b.openedAt) >= b.cfg.CoolDown {
		b.setState(BreakerHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, prev, next)
	}
}
