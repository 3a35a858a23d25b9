// Package cached puts a read-through token cache in front of an
// account.Store. Token lookups run on every authenticated request, so they
// are served from a TTL cache, remembered as misses in a negative cache
// and collapsed with single-flight. Writes invalidate by account id.
package cached

import (
	"context"
	"sync"
	"time"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config holds configuration for the cached store.
type Config struct {
	// TTL bounds how long a resolved token is served without hitting the store.
	TTL time.Duration

	// NegativeTTL bounds how long an unknown token is remembered.
	NegativeTTL time.Duration

	// Bloom enables the membership pre-filter. Only safe when this process
	// sees every write to the backing store.
	Bloom             bool
	ExpectedItems     uint
	FalsePositiveRate float64

	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:               30 * time.Second,
		NegativeTTL:       5 * time.Second,
		ExpectedItems:     10000,
		FalsePositiveRate: 0.01,
		CleanupInterval:   time.Minute,
	}
}

type entry struct {
	acc       *account.Account
	expiresAt time.Time
}

// Store wraps a backing account.Store. Everything except FindByToken is
// delegated; writes invalidate cached tokens of the affected account.
type Store struct {
	account.Store

	config  Config
	logger  *logging.Logger
	metrics metrics.MetricsCollector
	sf      singleflight.Group
	now     func() time.Time

	mu       sync.RWMutex
	positive map[string]entry
	negative map[string]time.Time
	filter   *bloom.BloomFilter
	// gen increases on every write so a lookup that raced a write does not
	// repopulate the cache with stale data.
	gen uint64

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// New wraps backing. When the bloom filter is enabled the existing tokens
// are loaded into it before New returns.
func New(ctx context.Context, backing account.Store, config Config, logger *logging.Logger, collector metrics.MetricsCollector) (*Store, error) {
	def := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.NegativeTTL <= 0 {
		config.NegativeTTL = def.NegativeTTL
	}
	if config.ExpectedItems == 0 {
		config.ExpectedItems = def.ExpectedItems
	}
	if config.FalsePositiveRate <= 0 || config.FalsePositiveRate >= 1 {
		config.FalsePositiveRate = def.FalsePositiveRate
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	s := &Store{
		Store:       backing,
		config:      config,
		logger:      logger.Named("account-cache"),
		metrics:     metrics.OrNoOp(collector),
		now:         time.Now,
		positive:    make(map[string]entry),
		negative:    make(map[string]time.Time),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	if config.Bloom {
		s.filter = bloom.NewWithEstimates(config.ExpectedItems, config.FalsePositiveRate)
		all, err := backing.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range all {
			if a.Token != "" {
				s.filter.AddString(a.Token)
			}
		}
		s.logger.Info("Bloom filter seeded", zap.Int("tokens", len(all)))
	}

	go s.cleanup()
	return s, nil
}

// FindByToken resolves a token through the cache layers.
func (s *Store) FindByToken(ctx context.Context, token string) (*account.Account, error) {
	if token == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.RLock()
	if s.filter != nil && !s.filter.TestString(token) {
		s.mu.RUnlock()
		s.metrics.RecordAccountLookup(metrics.LookupBloomReject)
		return nil, nil
	}
	if e, ok := s.positive[token]; ok && now.Before(e.expiresAt) {
		s.mu.RUnlock()
		s.metrics.RecordAccountLookup(metrics.LookupHit)
		return e.acc.Clone(), nil
	}
	if exp, ok := s.negative[token]; ok && now.Before(exp) {
		s.mu.RUnlock()
		s.metrics.RecordAccountLookup(metrics.LookupNegative)
		return nil, nil
	}
	gen := s.gen
	s.mu.RUnlock()

	s.metrics.RecordAccountLookup(metrics.LookupMiss)
	v, err, _ := s.sf.Do(token, func() (interface{}, error) {
		a, err := s.Store.FindByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		s.remember(token, a, gen)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	a, _ := v.(*account.Account)
	return a.Clone(), nil
}

func (s *Store) remember(token string, a *account.Account, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	now := s.now()
	if a == nil {
		s.negative[token] = now.Add(s.config.NegativeTTL)
		return
	}
	s.positive[token] = entry{acc: a.Clone(), expiresAt: now.Add(s.config.TTL)}
}

func (s *Store) Create(ctx context.Context, a *account.Account) (int64, error) {
	id, err := s.Store.Create(ctx, a)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.gen++
	if a.Token != "" {
		delete(s.negative, a.Token)
		if s.filter != nil {
			s.filter.AddString(a.Token)
		}
	}
	s.mu.Unlock()
	return id, nil
}

func (s *Store) Update(ctx context.Context, id int64, u account.Update) (bool, error) {
	ok, err := s.Store.Update(ctx, id, u)
	if err != nil || !ok {
		return ok, err
	}
	s.mu.Lock()
	s.invalidateLocked(id)
	if u.Token != nil && *u.Token != "" {
		delete(s.negative, *u.Token)
		if s.filter != nil {
			s.filter.AddString(*u.Token)
		}
	}
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	ok, err := s.Store.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	s.mu.Lock()
	s.invalidateLocked(id)
	s.mu.Unlock()
	return true, nil
}

// invalidateLocked drops every cached token owned by id.
func (s *Store) invalidateLocked(id int64) {
	s.gen++
	for token, e := range s.positive {
		if e.acc.ID == id {
			delete(s.positive, token)
		}
	}
}

// Close stops the sweeper and closes the backing store.
func (s *Store) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return s.Store.Close()
}

// Stats returns the number of live positive and negative entries.
func (s *Store) Stats() (positive, negative int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positive), len(s.negative)
}

func (s *Store) cleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, e := range s.positive {
		if !now.Before(e.expiresAt) {
			delete(s.positive, token)
		}
	}
	for token, exp := range s.negative {
		if !now.Before(exp) {
			delete(s.negative, token)
		}
	}
}
