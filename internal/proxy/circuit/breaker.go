// Package circuit tracks per-path health with a three-state breaker:
// CLOSED -> OPEN on a failure threshold, OPEN -> HALF_OPEN after a cooldown,
// HALF_OPEN -> CLOSED on probe success or back to OPEN on probe failure.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker state for one transport path.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Decision is the answer to Allow for one call.
type Decision int

const (
	Proceed Decision = iota
	ProceedAsProbe
	Reject
)

// Options configure one breaker.
type Options struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays OPEN before admitting a probe.
	Cooldown time.Duration
	// FailureWindow bounds how long a failure streak stays relevant: if no
	// failure is recorded within the window, the streak resets.
	FailureWindow time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.Cooldown <= 0 {
		out.Cooldown = 60 * time.Second
	}
	if out.FailureWindow <= 0 {
		out.FailureWindow = 60 * time.Second
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Breaker is the per-path state machine. All transitions happen under one
// mutex so concurrent Allow/RecordOutcome calls observe a consistent state.
type Breaker struct {
	opts Options

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	openedAt            time.Time
	lastProbeAt         time.Time
	probeInFlight       bool
}

func NewBreaker(opts Options) *Breaker {
	return &Breaker{opts: opts.withDefaults()}
}

// Allow decides whether a call on this path may go out. While OPEN every
// call is rejected until the cooldown elapses; then exactly one caller gets
// ProceedAsProbe and everyone else keeps getting Reject until the probe's
// outcome is recorded.
func (b *Breaker) Allow() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()

	switch b.state {
	case StateClosed:
		return Proceed

	case StateOpen:
		if now.Sub(b.openedAt) < b.opts.Cooldown {
			return Reject
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.lastProbeAt = now
		return ProceedAsProbe

	case StateHalfOpen:
		if b.probeInFlight {
			return Reject
		}
		b.probeInFlight = true
		b.lastProbeAt = now
		return ProceedAsProbe
	}

	return Reject
}

// RecordOutcome feeds one call result back into the state machine. A probe
// failure re-opens the circuit with a fresh openedAt, extending the cooldown
// from the probe failure, not the original open.
func (b *Breaker) RecordOutcome(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()

	switch b.state {
	case StateClosed:
		if success {
			b.consecutiveFailures = 0
			return
		}
		if !b.lastFailureAt.IsZero() && now.Sub(b.lastFailureAt) > b.opts.FailureWindow {
			b.consecutiveFailures = 0
		}
		b.consecutiveFailures++
		b.lastFailureAt = now
		if b.consecutiveFailures >= b.opts.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}

	case StateHalfOpen:
		b.probeInFlight = false
		if success {
			b.state = StateClosed
			b.consecutiveFailures = 0
		} else {
			b.state = StateOpen
			b.openedAt = now
			b.lastFailureAt = now
		}

	case StateOpen:
		// Outcome from a call admitted before the circuit opened; the
		// streak that opened the circuit already accounts for it.
	}
}

// CancelProbe releases the probe slot when the admitted probe call aborts
// before any network attempt (for example, credential resolution failed).
// The circuit stays HALF_OPEN and the next caller may probe.
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// Snapshot is a point-in-time view for the health endpoint.
type Snapshot struct {
	Status              string    `json:"status"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
	LastProbeAt         time.Time `json:"lastProbeAt,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Status:              b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastProbeAt:         b.lastProbeAt,
	}
	if b.state == StateOpen {
		snap.OpenedAt = b.openedAt
	}
	return snap
}
