package prometheus

import (
	"strconv"
	"time"

	"bank-gateway/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Banking backend
	bankCalls   *prometheus.CounterVec
	bankLatency *prometheus.HistogramVec
	logins      *prometheus.CounterVec
	relogins    *prometheus.CounterVec

	// Session cache
	sessions prometheus.Gauge

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Gateway
	authOutcomes   *prometheus.CounterVec
	rateDecisions  *prometheus.CounterVec
	accountLookups *prometheus.CounterVec

	// Async recorder
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec

	// HTTP surface
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		bankCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bank_calls_total",
				Help:      "Total number of banking backend calls per operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		bankLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bank_call_duration_seconds",
				Help:      "Banking backend call latency",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 13), // 10ms to ~40s
			},
			[]string{"op"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bank_logins_total",
				Help:      "Total number of banking backend logins",
			},
			[]string{"status"},
		),
		relogins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bank_relogins_total",
				Help:      "Total number of relogin retries per operation",
			},
			[]string{"op"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_cached",
				Help:      "Current number of cached banking sessions",
			},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		authOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_total",
				Help:      "Total number of authentication attempts per outcome",
			},
			[]string{"outcome"},
		),
		rateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Total number of rate limit decisions",
			},
			[]string{"decision"},
		),
		accountLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_lookups_total",
				Help:      "Total number of cached account lookups per result",
			},
			[]string{"result"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current async recorder queue depth",
			},
			[]string{"queue"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_writes_total",
				Help:      "Total number of dropped async writes",
			},
			[]string{"queue"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"method", "route"},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.bankCalls,
		pc.bankLatency,
		pc.logins,
		pc.relogins,
		pc.sessions,
		pc.circuitOpens,
		pc.circuitState,
		pc.authOutcomes,
		pc.rateDecisions,
		pc.accountLookups,
		pc.queueDepth,
		pc.droppedWrites,
		pc.httpRequests,
		pc.httpLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func (pc *PrometheusCollector) RecordBankCall(op string, outcome string, duration time.Duration) {
	pc.bankCalls.WithLabelValues(op, outcome).Inc()
	pc.bankLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordLogin(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	pc.logins.WithLabelValues(status).Inc()
}

func (pc *PrometheusCollector) RecordRelogin(op string) {
	pc.relogins.WithLabelValues(op).Inc()
}

func (pc *PrometheusCollector) RecordSessionCount(n int) {
	pc.sessions.Set(float64(n))
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

func (pc *PrometheusCollector) RecordAuth(outcome string) {
	pc.authOutcomes.WithLabelValues(outcome).Inc()
}

func (pc *PrometheusCollector) RecordRateLimit(allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	pc.rateDecisions.WithLabelValues(decision).Inc()
}

func (pc *PrometheusCollector) RecordAccountLookup(result string) {
	pc.accountLookups.WithLabelValues(result).Inc()
}

func (pc *PrometheusCollector) RecordQueueDepth(queue string, depth int) {
	pc.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (pc *PrometheusCollector) RecordWriteDropped(queue string) {
	pc.droppedWrites.WithLabelValues(queue).Inc()
}

func (pc *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	pc.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	pc.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
