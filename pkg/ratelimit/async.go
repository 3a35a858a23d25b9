package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"

	"go.uber.org/zap"
)

// Errors returned by AsyncRecorder.
var (
	// ErrQueueFull is returned when the queue stayed full for MaxWaitTime.
	ErrQueueFull = errors.New("ratelimit: stats queue full, event dropped")

	// ErrRecorderClosed is returned after Close.
	ErrRecorderClosed = errors.New("ratelimit: stats recorder is closed")

	// ErrFlushTimeout is returned when Flush times out waiting for the queue to drain.
	ErrFlushTimeout = errors.New("ratelimit: flush timeout exceeded")
)

const statsQueue = "ratelimit_stats"

// AsyncRecorderConfig configures the async recorder.
type AsyncRecorderConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if the queue is full (default: 10ms)
	MaxWaitTime time.Duration

	// WriteTimeout bounds each write to the backing store (default: 1s)
	WriteTimeout time.Duration
}

// AsyncRecordStats provides statistics about the recorder.
type AsyncRecordStats struct {
	QueueDepth int
	Dropped    int64
	Total      int64
	Failed     int64
}

// AsyncRecorder moves stats writes off the request path. It wraps a
// StatsStore with a bounded queue and a worker pool; events that cannot be
// queued in time are dropped and counted.
type AsyncRecorder struct {
	store   StatsStore
	queue   chan StatsEvent
	config  AsyncRecorderConfig
	logger  *logging.Logger
	metrics metrics.MetricsCollector

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	dropped atomic.Int64
	total   atomic.Int64
	failed  atomic.Int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// NewAsyncRecorder starts the worker pool. It must be closed with Close.
func NewAsyncRecorder(store StatsStore, config AsyncRecorderConfig, logger *logging.Logger, collector metrics.MetricsCollector) *AsyncRecorder {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Second
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &AsyncRecorder{
		store:         store,
		queue:         make(chan StatsEvent, config.QueueSize),
		config:        config,
		logger:        logger.Named("ratelimit-stats"),
		metrics:       metrics.OrNoOp(collector),
		ctx:           ctx,
		cancel:        cancel,
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	go r.reportMetrics()

	return r
}

// Record enqueues ev. If the queue is full it waits up to MaxWaitTime
// before dropping the event with ErrQueueFull.
func (r *AsyncRecorder) Record(ctx context.Context, ev StatsEvent) error {
	select {
	case <-r.ctx.Done():
		return ErrRecorderClosed
	default:
	}

	timer := time.NewTimer(r.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case r.queue <- ev:
		r.total.Add(1)
		return nil
	case <-timer.C:
		r.dropped.Add(1)
		r.metrics.RecordWriteDropped(statsQueue)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRecorderClosed
	}
}

func (r *AsyncRecorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
		case <-r.ctx.Done():
			// Drain what is left before exiting.
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *AsyncRecorder) write(ev StatsEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.store.Record(ctx, ev); err != nil {
		r.failed.Add(1)
		r.logger.Warn("Failed to record rate limit event", zap.String("key", ev.Key), zap.Error(err))
	}
}

// Flush waits until the queue is empty or timeout elapses.
func (r *AsyncRecorder) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(r.queue) > 0 {
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Close stops accepting events, drains the queue and waits for the workers.
func (r *AsyncRecorder) Close() error {
	close(r.metricsStop)
	r.metricsTicker.Stop()
	r.cancel()
	r.wg.Wait()
	return nil
}

func (r *AsyncRecorder) reportMetrics() {
	for {
		select {
		case <-r.metricsTicker.C:
			r.metrics.RecordQueueDepth(statsQueue, len(r.queue))
		case <-r.metricsStop:
			return
		}
	}
}

// Stats returns current recorder statistics.
func (r *AsyncRecorder) Stats() AsyncRecordStats {
	return AsyncRecordStats{
		QueueDepth: len(r.queue),
		Dropped:    r.dropped.Load(),
		Total:      r.total.Load(),
		Failed:     r.failed.Load(),
	}
}
