// Package breaker implements the circuit breaker guarding sync attempts
// against an unreachable or persistently failing shared folder.
//
// After a run of consecutive failures the circuit opens and suppresses
// non-manual attempts for a backoff window that doubles on each further
// failure, up to a cap. Once the window has passed, exactly one half-open
// probe is allowed: its success closes the circuit, its failure reopens it
// with a doubled backoff. Failures are expected and self-healing; nothing
// here ever surfaces as a user-facing error.
package breaker

import (
	"log"
	"os"
	"sync"
	"time"
)

// State is the circuit state.
type State int

const (
	// Closed allows attempts; everything is healthy.
	Closed State = iota
	// Open suppresses attempts until the backoff window has passed.
	Open
	// HalfOpen means a single probe attempt is in flight.
	HalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config holds circuit breaker policy parameters.
type Config struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int

	// BackoffFloor is the initial backoff once the circuit opens.
	BackoffFloor time.Duration

	// BackoffCap bounds backoff growth.
	BackoffCap time.Duration

	// Logger for state transitions.
	Logger *log.Logger
}

// DefaultConfig returns the standard policy: 5 failures, 30s floor, 5m cap.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		BackoffFloor:     30 * time.Second,
		BackoffCap:       5 * time.Minute,
		Logger:           log.New(os.Stderr, "[breaker] ", log.LstdFlags),
	}
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	config *Config

	mu       sync.Mutex
	state    State
	failures int
	backoff  time.Duration
	resetAt  time.Time

	now func() time.Time // test seam
}

// New creates a Breaker. A nil config uses DefaultConfig.
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[breaker] ", log.LstdFlags)
	}
	return &Breaker{
		config: config,
		now:    time.Now,
	}
}

// Allow reports whether an attempt may proceed right now. When the circuit
// is open and the backoff window has passed, the first Allow call becomes
// the half-open probe; further calls are suppressed until the probe's
// outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if !b.now().Before(b.resetAt) {
			b.state = HalfOpen
			b.config.Logger.Printf("Circuit half-open, allowing probe attempt")
			return true
		}
		return false
	default: // HalfOpen: probe already in flight
		return false
	}
}

// RecordSuccess reports a fully successful attempt. The circuit closes and
// backoff returns to the floor.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Closed {
		b.config.Logger.Printf("Circuit closed after successful attempt")
	}
	b.state = Closed
	b.failures = 0
	b.backoff = 0
	b.resetAt = time.Time{}
}

// RecordFailure reports a failed attempt. A failed half-open probe reopens
// the circuit immediately with a doubled backoff; otherwise the circuit
// opens once the consecutive-failure threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	if b.state == HalfOpen {
		b.openLocked()
		return
	}
	if b.state == Closed && b.failures >= b.config.FailureThreshold {
		b.openLocked()
	}
}

// openLocked opens the circuit, doubling the backoff if it was already set.
// Caller holds b.mu.
func (b *Breaker) openLocked() {
	if b.backoff == 0 {
		b.backoff = b.config.BackoffFloor
	} else {
		b.backoff *= 2
		if b.backoff > b.config.BackoffCap {
			b.backoff = b.config.BackoffCap
		}
	}
	b.state = Open
	b.resetAt = b.now().Add(b.backoff)
	b.config.Logger.Printf("Circuit open after %d consecutive failures, next attempt in %s", b.failures, b.backoff)
}

// Reset unconditionally closes the circuit and clears the failure count.
// This backs the user-facing "retry now" affordance.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = 0
	b.backoff = 0
	b.resetAt = time.Time{}
	b.config.Logger.Printf("Circuit manually reset")
}

// Status returns the current state, consecutive-failure count, and the time
// the next attempt will be allowed (zero when the circuit is closed).
func (b *Breaker) Status() (State, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures, b.resetAt
}
