// Package circuitbreaker implements a Closed/Open/HalfOpen circuit breaker
// guarding the PolicyGraph's database connection: consecutive failures
// trip it, a cooldown elapses before a probe, consecutive successes close
// it again.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
)

// State is one of Closed, Open, or HalfOpen.
type State string

const (
	// StateClosed means calls pass through normally.
	StateClosed State = "closed"
	// StateOpen means calls are rejected immediately without being attempted.
	StateOpen State = "open"
	// StateHalfOpen means a single probe window is open to test recovery.
	StateHalfOpen State = "half_open"
)

// Config tunes the breaker's trip/reset thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open. Default 5.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in HalfOpen
	// required to close the breaker. Default 3.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays Open before allowing a
	// probe call through (transitioning to HalfOpen). Default 60s.
	OpenTimeout time.Duration
}

// DefaultConfig returns the production defaults: trip after 5 consecutive
// failures, stay open 60s, close after 3 consecutive probe successes.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 3, OpenTimeout: 60 * time.Second}
}

// Stats is an observable snapshot of breaker counters.
type Stats struct {
	State               State
	ConsecutiveFailures int
	ConsecutiveSuccesses int
	TotalSuccesses      int64
	TotalFailures       int64
}

// Breaker is a thread-safe circuit breaker. The zero value is not usable;
// construct with New.
type Breaker struct {
	cfg Config

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	totalSuccesses       int64
	totalFailures        int64
	openedAt             time.Time

	now func() time.Time
}

// New creates a Breaker in the Closed state with the given config. Zero
// values in cfg are replaced with DefaultConfig's corresponding fields.
func New(cfg Config) *Breaker {
	d := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = d.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Allow reports whether a call may proceed right now. When the breaker is
// Open and the cooldown has elapsed, it transitions to HalfOpen and allows
// exactly the calling probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
			b.state = StateHalfOpen
			b.consecutiveSuccesses = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call outcome and advances the state
// machine (HalfOpen -> Closed once SuccessThreshold consecutive successes
// accumulate).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.consecutiveFailures = 0

	switch b.state {
	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveSuccesses = 0
		}
	case StateClosed:
		b.consecutiveSuccesses++
	}
}

// RecordFailure records a failed call outcome and advances the state
// machine (Closed -> Open after FailureThreshold consecutive failures;
// HalfOpen -> Open immediately on any failure).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.consecutiveSuccesses = 0

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// trip must be called with mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.consecutiveFailures = 0
}

// Do executes fn if Allow() permits it, recording the outcome. Returns
// errs.ErrCircuitOpen (via *errs.Error of KindCircuitOpen) without calling
// fn if the breaker rejects the call.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return errs.Wrap(errs.KindCircuitOpen, "database circuit breaker open", errs.ErrCircuitOpen)
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Snapshot returns an observable copy of the breaker's current counters.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
	}
}
