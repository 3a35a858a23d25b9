package resilience

import (
	"time"
)

// ResilientConfig configures resilience features for banking backend calls.
type ResilientConfig struct {
	// Timeout bounds every single backend call.
	Timeout time.Duration

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears. Default: 60s
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker when ReadyToTrip is nil. Default: 5
	ConsecutiveFailures uint32

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If ReadyToTrip returns true, the CircuitBreaker will be placed into the open state.
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig returns sensible defaults for resilience configuration.
// Backend logins solve a captcha, so the per-call timeout is generous.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 30 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}

// WithConsecutiveFailures returns a copy of the config tripping after n failures in a row.
func (c ResilientConfig) WithConsecutiveFailures(n uint32) ResilientConfig {
	c.CircuitBreakerConfig.ConsecutiveFailures = n
	return c
}
