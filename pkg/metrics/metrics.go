package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting gateway metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Banking backend
	RecordBankCall(op string, outcome string, duration time.Duration)
	RecordLogin(success bool)
	RecordRelogin(op string)

	// Session cache
	RecordSessionCount(n int)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// Gateway
	RecordAuth(outcome string)
	RecordRateLimit(allowed bool)
	RecordAccountLookup(result string)

	// Async recorder
	RecordQueueDepth(queue string, depth int)
	RecordWriteDropped(queue string)

	// HTTP surface
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// Account lookup results reported by the cached store.
const (
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupNegative    = "negative"
	LookupBloomReject = "bloom_reject"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordBankCall(op string, outcome string, duration time.Duration) {}
func (NoOpCollector) RecordLogin(success bool) {}
func (NoOpCollector) RecordRelogin(op string) {}
func (NoOpCollector) RecordSessionCount(n int) {}
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}
func (NoOpCollector) RecordAuth(outcome string) {}
func (NoOpCollector) RecordRateLimit(allowed bool) {}
func (NoOpCollector) RecordAccountLookup(result string) {}
func (NoOpCollector) RecordQueueDepth(queue string, depth int) {}
func (NoOpCollector) RecordWriteDropped(queue string) {}
func (NoOpCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c MetricsCollector) MetricsCollector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}
