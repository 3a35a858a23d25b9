package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsEvent describes one admission decision.
type StatsEvent struct {
	Key     string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// StatsStore receives admission decisions.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters holds allowed and denied totals.
type Counters struct {
	Allowed int64
	Denied  int64
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
}

// MemoryStatsStore aggregates decisions in process memory.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)

	if route := routeOf(ev); route != "" {
		c := s.byRoute[route]
		c.add(ev.Allowed)
		s.byRoute[route] = c
	}
	if ev.Key != "" {
		c := s.byKey[ev.Key]
		c.add(ev.Allowed)
		s.byKey[ev.Key] = c
	}
	return nil
}

// Total returns the overall counters.
func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Route returns the counters for "METHOD /path".
func (s *MemoryStatsStore) Route(route string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRoute[route]
}

// Key returns the counters for one client key.
func (s *MemoryStatsStore) Key(key string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key]
}

func routeOf(ev StatsEvent) string {
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
}

// RedisStatsStore aggregates decisions in Redis hashes: a cumulative
// total, per-minute buckets, per-route counters and optionally per-key
// counters. Buckets and key counters expire after TTL.
type RedisStatsStore struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev StatsEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucket := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucket, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucket, s.ttl)
	}

	if route := routeOf(ev); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys && ev.Key != "" {
		k := s.prefix + ":key:" + ev.Key
		pipe.HIncrBy(ctx, k, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
