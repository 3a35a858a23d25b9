package cached

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/metrics"
	metricsmem "bank-gateway/pkg/metrics/memory"
)

// countingStore counts FindByToken calls reaching the backing store.
type countingStore struct {
	*account.MemoryStore
	lookups int64
	delay   time.Duration
}

func (c *countingStore) FindByToken(ctx context.Context, token string) (*account.Account, error) {
	atomic.AddInt64(&c.lookups, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.MemoryStore.FindByToken(ctx, token)
}

func (c *countingStore) Lookups() int { return int(atomic.LoadInt64(&c.lookups)) }

func newTestStore(t *testing.T, cfg Config) (*Store, *countingStore, *metricsmem.MemoryCollector) {
	t.Helper()
	backing := &countingStore{MemoryStore: account.NewMemoryStore()}
	mc := metricsmem.NewMemoryCollector()
	s, err := New(context.Background(), backing, cfg, nil, mc)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, backing, mc
}

func TestFindByTokenServesFromCache(t *testing.T) {
	s, backing, mc := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	s.Create(ctx, &account.Account{Username: "u1", Token: "tok"})

	for i := 0; i < 3; i++ {
		a, err := s.FindByToken(ctx, "tok")
		if err != nil || a == nil || a.Username != "u1" {
			t.Fatalf("FindByToken = %v, %v", a, err)
		}
	}
	if backing.Lookups() != 1 {
		t.Errorf("Expected 1 backing lookup, got %d", backing.Lookups())
	}
	if got := mc.Snapshot().AccountLookups[metrics.LookupHit]; got != 2 {
		t.Errorf("Expected 2 cache hits, got %d", got)
	}
}

func TestFindByTokenNegativeCache(t *testing.T) {
	s, backing, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if a, err := s.FindByToken(ctx, "unknown"); a != nil || err != nil {
			t.Fatalf("Expected (nil, nil), got %v, %v", a, err)
		}
	}
	if backing.Lookups() != 1 {
		t.Errorf("Expected the miss to be remembered, got %d lookups", backing.Lookups())
	}

	// A create with that token must clear the negative entry.
	s.Create(ctx, &account.Account{Username: "u1", Token: "unknown"})
	if a, _ := s.FindByToken(ctx, "unknown"); a == nil {
		t.Error("Expected newly created token to resolve")
	}
}

func TestFindByTokenExpires(t *testing.T) {
	s, backing, _ := newTestStore(t, Config{TTL: time.Minute, NegativeTTL: time.Minute})
	ctx := context.Background()
	s.Create(ctx, &account.Account{Username: "u1", Token: "tok"})

	now := time.Now()
	s.now = func() time.Time { return now }
	s.FindByToken(ctx, "tok")

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	s.FindByToken(ctx, "tok")

	if backing.Lookups() != 2 {
		t.Errorf("Expected expired entry to be refetched, got %d lookups", backing.Lookups())
	}
}

func TestUpdateInvalidatesCachedAccount(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	id, _ := s.Create(ctx, &account.Account{Username: "u1", Token: "tok"})

	if a, _ := s.FindByToken(ctx, "tok"); a.Status != account.StatusActive {
		t.Fatalf("unexpected status %s", a.Status)
	}

	locked := account.StatusLocked
	if ok, err := s.Update(ctx, id, account.Update{Status: &locked}); !ok || err != nil {
		t.Fatalf("Update = %v, %v", ok, err)
	}
	a, _ := s.FindByToken(ctx, "tok")
	if a == nil || a.Status != account.StatusLocked {
		t.Errorf("Expected fresh locked status, got %+v", a)
	}

	rotated := "tok2"
	s.Update(ctx, id, account.Update{Token: &rotated})
	if a, _ := s.FindByToken(ctx, "tok"); a != nil {
		t.Error("Expected the old token to stop resolving after rotation")
	}
	if a, _ := s.FindByToken(ctx, "tok2"); a == nil {
		t.Error("Expected the rotated token to resolve")
	}
}

func TestDeleteInvalidates(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	id, _ := s.Create(ctx, &account.Account{Username: "u1", Token: "tok"})
	s.FindByToken(ctx, "tok")

	s.Delete(ctx, id)
	if a, _ := s.FindByToken(ctx, "tok"); a != nil {
		t.Error("Expected deleted account not to be served from cache")
	}
}

func TestFindByTokenSingleFlight(t *testing.T) {
	s, backing, _ := newTestStore(t, DefaultConfig())
	backing.delay = 50 * time.Millisecond
	ctx := context.Background()
	s.Create(ctx, &account.Account{Username: "u1", Token: "tok"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a, err := s.FindByToken(ctx, "tok"); a == nil || err != nil {
				t.Errorf("FindByToken = %v, %v", a, err)
			}
		}()
	}
	wg.Wait()

	if backing.Lookups() != 1 {
		t.Errorf("Expected concurrent lookups to collapse into 1, got %d", backing.Lookups())
	}
}

func TestBloomRejectsUnknownTokens(t *testing.T) {
	backing := &countingStore{MemoryStore: account.NewMemoryStore()}
	backing.Create(context.Background(), &account.Account{Username: "seeded", Token: "seeded-token"})

	cfg := DefaultConfig()
	cfg.Bloom = true
	s, err := New(context.Background(), backing, cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if a, _ := s.FindByToken(ctx, "seeded-token"); a == nil {
		t.Error("Expected seeded token to pass the filter")
	}
	s.FindByToken(ctx, "never-issued")
	if backing.Lookups() != 1 {
		t.Errorf("Expected the filter to short-circuit unknown tokens, got %d lookups", backing.Lookups())
	}
}
