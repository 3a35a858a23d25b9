package ratelimit

import (
	"context"
	"sync"
	"time"

	"bank-gateway/pkg/logging"

	"go.uber.org/zap"
)

type record struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// MemoryLimiter keeps one record per client key in process memory.
type MemoryLimiter struct {
	config Config
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

// NewMemoryLimiter creates an in-memory limiter. Call StartJanitor to reap
// idle records.
func NewMemoryLimiter(config Config, logger *logging.Logger) *MemoryLimiter {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &MemoryLimiter{
		config:  config.withDefaults(),
		logger:  logger.Named("ratelimit"),
		now:     time.Now,
		records: make(map[string]*record),
	}
}

// Allow admits the request if the key is under its limit. Rejected
// requests refresh lastSeen but do not count.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		rec = &record{windowStart: now}
		l.records[key] = rec
	}

	dec, start, count := decide(l.config.Limit, l.config.Window, rec.windowStart, rec.count, now)
	rec.windowStart, rec.count = start, count
	rec.lastSeen = now
	return dec, nil
}

// Cleanup removes records idle for longer than the window and returns how
// many were removed.
func (l *MemoryLimiter) Cleanup() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, rec := range l.records {
		if now.Sub(rec.lastSeen) > l.config.Window {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Cleanup every CleanupInterval until ctx is done.
func (l *MemoryLimiter) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.config.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := l.Cleanup(); n > 0 {
					l.logger.Debug("Reaped idle rate records", zap.Int("removed", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
