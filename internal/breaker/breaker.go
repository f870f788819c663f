// Package breaker implements the per-agent circuit breaker that isolates
// repeatedly failing analysis agents from dispatch.
package breaker

import (
	"sync"
	"time"

	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/metrics"
)

// State is the circuit breaker position.
type State int

const (
	// Closed allows dispatch; the agent is considered healthy.
	Closed State = iota
	// Open rejects dispatch until the cooldown elapses.
	Open
	// HalfOpen allows a single probe dispatch after the cooldown.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the consecutive-failure count that trips
	// the breaker.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long the breaker stays open before allowing
	// a probe.
	DefaultCooldown = 30 * time.Second
)

// Breaker tracks consecutive dispatch failures for a single agent role.
// It is long-lived across incidents and safe for concurrent use; every
// method takes only this breaker's lock, so contention on one agent never
// blocks dispatch to another.
type Breaker struct {
	mu sync.Mutex

	role             string
	failureThreshold int
	cooldown         time.Duration

	state          State
	failures       int
	lastTransition time.Time

	// now is the clock, overridable in tests.
	now func() time.Time

	logger *logging.Logger
}

// New creates a breaker for one agent role. Non-positive threshold or
// cooldown fall back to the defaults.
func New(role string, failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		role:             role,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            Closed,
		now:              time.Now,
		logger:           logging.GetLogger("breaker").WithField("role", role),
	}
}

// Allow reports whether a dispatch may be attempted. An Open breaker whose
// cooldown has elapsed transitions to HalfOpen and allows one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.lastTransition) >= b.cooldown {
			b.transition(HalfOpen)
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the breaker to Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != Closed {
		b.transition(Closed)
	}
}

// RecordFailure counts a consecutive failure. A Closed breaker trips to
// Open at the failure threshold; a HalfOpen breaker trips immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case HalfOpen:
		b.transition(Open)
		metrics.ObserveBreakerTrip(b.role)
	case Closed:
		if b.failures >= b.failureThreshold {
			b.transition(Open)
			metrics.ObserveBreakerTrip(b.role)
		}
	}
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// State returns the current breaker state, applying the Open→HalfOpen
// cooldown transition if due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.lastTransition) >= b.cooldown {
		b.transition(HalfOpen)
	}
	return b.state
}

// transition must be called with the lock held.
func (b *Breaker) transition(next State) {
	b.logger.Debug("state %s -> %s (failures=%d)", b.state, next, b.failures)
	b.state = next
	b.lastTransition = b.now()
}
