// Package resilience provides retry, circuit breaking and dead-letter
// bookkeeping around LLM provider calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the position of a provider circuit.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cool-down passes.
	CircuitOpen
	// CircuitHalfOpen admits a single probe call at a time.
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrCircuitOpen is returned when a call is rejected because the provider
// circuit is open or a half-open probe is already in flight.
var ErrCircuitOpen = eris.New("provider circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name labels log lines, usually the provider name.
	Name string
	// FailureThreshold is the number of consecutive failed provider calls
	// that opens the circuit.
	FailureThreshold int
	// ResetTimeout is the cool-down before a probe call is admitted.
	ResetTimeout time.Duration
	// ProbeSuccesses is the number of successful probes that close the
	// circuit again.
	ProbeSuccesses int
	// ShouldTrip decides which errors count against the provider. The
	// default counts every error except caller cancellation.
	ShouldTrip func(err error) bool
	// OnStateChange observes transitions. It runs under the breaker lock.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults used when config leaves
// the circuit section empty.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		ProbeSuccesses:   1,
	}
}

// CircuitSnapshot is a point-in-time view of a breaker.
type CircuitSnapshot struct {
	State               CircuitState
	ConsecutiveFailures int
	// RetryAt is when an open circuit admits its next probe. Zero unless
	// the circuit is open.
	RetryAt time.Time
}

// CircuitBreaker guards one provider. It is shared by all documents of a
// process and safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	probes      int
	probing     bool
	openedAt    time.Time
	nowFunc     func() time.Time
	shouldTrip  func(error) bool
	stateLogger *zap.Logger
}

// NewCircuitBreaker creates a breaker, filling unset fields from
// DefaultCircuitBreakerConfig.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = def.ProbeSuccesses
	}
	trip := cfg.ShouldTrip
	if trip == nil {
		trip = countsAgainstProvider
	}
	return &CircuitBreaker{
		cfg:         cfg,
		nowFunc:     time.Now,
		shouldTrip:  trip,
		stateLogger: zap.L().With(zap.String("circuit", cfg.Name)),
	}
}

// countsAgainstProvider ignores cancellation by the caller, which says
// nothing about provider health.
func countsAgainstProvider(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn if the circuit admits it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	probe, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(probe, err)
	return val, err
}

// State returns the current state. An open circuit whose cool-down has
// passed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	return cb.Snapshot().State
}

// Snapshot returns the state and failure count under one lock.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := CircuitSnapshot{State: cb.state, ConsecutiveFailures: cb.failures}
	if cb.state == CircuitOpen {
		s.RetryAt = cb.openedAt.Add(cb.cfg.ResetTimeout)
		if !cb.nowFunc().Before(s.RetryAt) {
			s.State = CircuitHalfOpen
			s.RetryAt = time.Time{}
		}
	}
	return s
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probes, cb.probing = 0, 0, false
	cb.moveTo(CircuitClosed)
}

// admit decides whether a call may proceed. probe is true when the call is
// the single half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.nowFunc().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.moveTo(CircuitHalfOpen)
	}
	if cb.state == CircuitHalfOpen {
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}

	if !cb.shouldTrip(err) {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.probes++
			if cb.probes >= cb.cfg.ProbeSuccesses {
				cb.probes = 0
				cb.moveTo(CircuitClosed)
			}
		}
		return
	}

	cb.failures++
	switch {
	case cb.state == CircuitHalfOpen:
		cb.probes = 0
		cb.open()
	case cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.nowFunc()
	cb.moveTo(CircuitOpen)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.stateLogger.Warn("resilience: circuit state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", cb.failures),
	)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
