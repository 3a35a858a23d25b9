package memory

import (
	"maps"
	"strconv"
	"sync"
	"time"

	"bank-gateway/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	bankCalls    map[string]int64 // "op/outcome"
	bankLatency  map[string][]time.Duration
	loginsOK     int64
	loginsFailed int64
	relogins     map[string]int64

	sessionCount int

	circuitState map[string]metrics.CircuitState
	circuitOpens map[string]int64

	authOutcomes   map[string]int64
	rateAllowed    int64
	rateRejected   int64
	accountLookups map[string]int64

	queueDepth    map[string]int
	droppedWrites map[string]int64

	httpRequests map[string]int64 // "METHOD route status"
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.bankCalls = make(map[string]int64)
	mc.bankLatency = make(map[string][]time.Duration)
	mc.loginsOK, mc.loginsFailed = 0, 0
	mc.relogins = make(map[string]int64)
	mc.sessionCount = 0
	mc.circuitState = make(map[string]metrics.CircuitState)
	mc.circuitOpens = make(map[string]int64)
	mc.authOutcomes = make(map[string]int64)
	mc.rateAllowed, mc.rateRejected = 0, 0
	mc.accountLookups = make(map[string]int64)
	mc.queueDepth = make(map[string]int)
	mc.droppedWrites = make(map[string]int64)
	mc.httpRequests = make(map[string]int64)
}

func (mc *MemoryCollector) RecordBankCall(op string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.bankCalls[op+"/"+outcome]++
	mc.bankLatency[op] = append(mc.bankLatency[op], duration)
}

func (mc *MemoryCollector) RecordLogin(success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if success {
		mc.loginsOK++
	} else {
		mc.loginsFailed++
	}
}

func (mc *MemoryCollector) RecordRelogin(op string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.relogins[op]++
}

func (mc *MemoryCollector) RecordSessionCount(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.sessionCount = n
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	oldState := mc.circuitState[name]
	mc.circuitState[name] = state

	// Count transitions to open
	if oldState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		mc.circuitOpens[name]++
	}
}

func (mc *MemoryCollector) RecordAuth(outcome string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.authOutcomes[outcome]++
}

func (mc *MemoryCollector) RecordRateLimit(allowed bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if allowed {
		mc.rateAllowed++
	} else {
		mc.rateRejected++
	}
}

func (mc *MemoryCollector) RecordAccountLookup(result string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.accountLookups[result]++
}

func (mc *MemoryCollector) RecordQueueDepth(queue string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.queueDepth[queue] = depth
}

func (mc *MemoryCollector) RecordWriteDropped(queue string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.droppedWrites[queue]++
}

func (mc *MemoryCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.httpRequests[httpKey(method, route, status)]++
}

func httpKey(method, route string, status int) string {
	return method + " " + route + " " + strconv.Itoa(status)
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	BankCalls      map[string]int64
	LoginsOK       int64
	LoginsFailed   int64
	Relogins       map[string]int64
	SessionCount   int
	CircuitState   map[string]metrics.CircuitState
	CircuitOpens   map[string]int64
	AuthOutcomes   map[string]int64
	RateAllowed    int64
	RateRejected   int64
	AccountLookups map[string]int64
	QueueDepth     map[string]int
	DroppedWrites  map[string]int64
	HTTPRequests   map[string]int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return Snapshot{
		BankCalls:      maps.Clone(mc.bankCalls),
		LoginsOK:       mc.loginsOK,
		LoginsFailed:   mc.loginsFailed,
		Relogins:       maps.Clone(mc.relogins),
		SessionCount:   mc.sessionCount,
		CircuitState:   maps.Clone(mc.circuitState),
		CircuitOpens:   maps.Clone(mc.circuitOpens),
		AuthOutcomes:   maps.Clone(mc.authOutcomes),
		RateAllowed:    mc.rateAllowed,
		RateRejected:   mc.rateRejected,
		AccountLookups: maps.Clone(mc.accountLookups),
		QueueDepth:     maps.Clone(mc.queueDepth),
		DroppedWrites:  maps.Clone(mc.droppedWrites),
		HTTPRequests:   maps.Clone(mc.httpRequests),
	}
}

// BankCalls returns the number of calls recorded for op with the given outcome.
func (mc *MemoryCollector) BankCalls(op, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.bankCalls[op+"/"+outcome]
}

// HTTPRequests returns the request count for a method, route and status.
func (mc *MemoryCollector) HTTPRequests(method, route string, status int) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.httpRequests[httpKey(method, route, status)]
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.reset()
}
