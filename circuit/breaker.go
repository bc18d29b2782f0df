// Package circuit provides the per-target circuit breaker consulted during
// message delivery. The breaker is driven by explicit failure counters, not
// exceptions: CLOSED admits calls, OPEN rejects them until a reset timeout
// passes, HALF_OPEN admits a bounded number of probe calls.
package circuit

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state.
type State int

const (
	// StateClosed admits calls (normal operation).
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker errors.
var (
	// ErrOpen indicates the breaker is open and the call was rejected.
	ErrOpen = errors.New("circuit: breaker open")
	// ErrTooManyProbes indicates the half-open probe budget is spent.
	ErrTooManyProbes = errors.New("circuit: too many half-open probes")
)

// Config configures a breaker.
type Config struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int
	// OnStateChange is invoked after each state transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Breaker is a single-target circuit breaker. Allow/RecordSuccess/
// RecordFailure are safe for concurrent use.
type Breaker struct {
	config *Config
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	halfOpenCalls   int
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}

	return &Breaker{
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN to HALF_OPEN
// once the reset timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCalls = 1
			b.logger.Info("circuit breaker half-open")
			return nil
		}
		return ErrOpen

	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return ErrTooManyProbes
		}
		b.halfOpenCalls++
		return nil

	default:
		return ErrOpen
	}
}

// RecordSuccess records a successful call, closing a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.logger.Info("circuit breaker recovered",
			zap.Int("half_open_calls", b.halfOpenCalls),
		)
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenCalls = 0
	}
}

// RecordFailure records a failed call, opening the breaker at the failure
// threshold or on any half-open failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("circuit breaker reopened after half-open failure")
		b.setState(StateOpen)
		b.halfOpenCalls = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCalls = 0

	if b.config.OnStateChange != nil && oldState != StateClosed {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

func (b *Breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}
