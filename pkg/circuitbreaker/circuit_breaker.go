// Package circuitbreaker stops calling a recognition, translation or
// synthesis backend after repeated failures and probes it again later.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/metrics"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// Consecutive failures before the circuit opens
	FailureThreshold int64

	// Consecutive half-open successes before the circuit closes
	SuccessThreshold int64

	// Time the circuit stays open before a probe is allowed
	Timeout time.Duration

	// Upper bound of the backed-off open time
	MaxTimeout time.Duration

	// Deadline applied to calls whose context has none
	RequestTimeout time.Duration

	// Double the open time for every failure past the threshold
	ExponentialBackoff bool
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            30 * time.Second,
		MaxTimeout:         5 * time.Minute,
		RequestTimeout:     30 * time.Second,
		ExponentialBackoff: true,
	}
}

// Statistics tracks circuit breaker activity
type Statistics struct {
	TotalRequests        int64     `json:"total_requests"`
	SuccessfulRequests   int64     `json:"successful_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	RejectedRequests     int64     `json:"rejected_requests"`
	ConsecutiveFailures  int64     `json:"consecutive_failures"`
	ConsecutiveSuccesses int64     `json:"consecutive_successes"`
	LastFailureTime      time.Time `json:"last_failure_time"`
	LastSuccessTime      time.Time `json:"last_success_time"`
	StateTransitions     int64     `json:"state_transitions"`
}

// CircuitBreaker guards one backend. It is safe for concurrent use.
type CircuitBreaker struct {
	name   string
	logger *logrus.Entry
	config *Config
	now    func() time.Time

	mutex       sync.Mutex
	state       State
	nextAttempt time.Time
	stats       Statistics

	onStateChange func(name string, from State, to State)
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(name string, config *Config, logger *logrus.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	metrics.SetBreakerState(name, int(StateClosed))
	return &CircuitBreaker{
		name:   name,
		logger: logger.WithFields(logrus.Fields{"component": "circuit_breaker", "circuit_name": name}),
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// SetClock replaces the time source
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = now
}

// Execute runs fn unless the circuit is open. A cancelled ctx is not
// counted as a backend failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return NewCircuitBreakerOpenError(cb.name)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && cb.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
		defer cancel()
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case ctx.Err() == context.Canceled:
	default:
		cb.recordFailure(err)
	}
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttempt) {
			cb.stats.RejectedRequests++
			return false
		}
		cb.setState(StateHalfOpen)
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.stats.TotalRequests++
	cb.stats.SuccessfulRequests++
	cb.stats.ConsecutiveFailures = 0
	cb.stats.ConsecutiveSuccesses++
	cb.stats.LastSuccessTime = cb.now()

	if cb.state == StateHalfOpen && cb.stats.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.stats.TotalRequests++
	cb.stats.FailedRequests++
	cb.stats.ConsecutiveFailures++
	cb.stats.ConsecutiveSuccesses = 0
	cb.stats.LastFailureTime = cb.now()

	// a failed probe reopens immediately
	if cb.state == StateHalfOpen || cb.stats.ConsecutiveFailures >= cb.config.FailureThreshold {
		cb.setState(StateOpen)
	}

	cb.logger.WithError(err).WithFields(logrus.Fields{
		"failures": cb.stats.ConsecutiveFailures,
		"state":    cb.state.String(),
	}).Debug("Circuit breaker recorded failure")
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	now := cb.now()

	switch newState {
	case StateOpen:
		cb.nextAttempt = now.Add(cb.openTimeout())
	case StateClosed:
		cb.nextAttempt = time.Time{}
	case StateHalfOpen:
		cb.stats.ConsecutiveSuccesses = 0
	}
	if oldState == newState {
		return
	}

	cb.state = newState
	cb.stats.StateTransitions++
	metrics.SetBreakerState(cb.name, int(newState))

	cb.logger.WithFields(logrus.Fields{
		"from_state": oldState.String(),
		"to_state":   newState.String(),
		"failures":   cb.stats.ConsecutiveFailures,
	}).Info("Circuit breaker state changed")

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

func (cb *CircuitBreaker) openTimeout() time.Duration {
	timeout := cb.config.Timeout
	if !cb.config.ExponentialBackoff {
		return timeout
	}
	over := cb.stats.ConsecutiveFailures - cb.config.FailureThreshold
	if over < 0 {
		over = 0
	}
	if over > 10 {
		over = 10
	}
	timeout *= time.Duration(1) << uint(over)
	if cb.config.MaxTimeout > 0 && timeout > cb.config.MaxTimeout {
		timeout = cb.config.MaxTimeout
	}
	return timeout
}

// GetState returns the current circuit breaker state
func (cb *CircuitBreaker) GetState() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// GetStatistics returns a copy of the statistics
func (cb *CircuitBreaker) GetStatistics() Statistics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.stats
}

// Reset closes the circuit and clears the statistics
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.stats = Statistics{}
	cb.logger.Info("Circuit breaker reset")
}

// SetStateChangeCallback sets a callback for state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from State, to State)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// GetName returns the circuit breaker name
func (cb *CircuitBreaker) GetName() string {
	return cb.name
}

// IsOpen returns true if the circuit is open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.GetState() == StateOpen
}
