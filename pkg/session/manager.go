// Package session caches authenticated banking backend sessions per
// username and runs banking operations against them with a single
// relogin retry.
package session

import (
	"context"
	"fmt"
	"sync"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the process wide client preferences and the login throttle.
type Config struct {
	PreferredOCRMethod bank.OCRMethod
	SaveWasm           bool

	// LoginRate caps backend logins per second across all accounts.
	// Zero disables the throttle.
	LoginRate  float64
	LoginBurst int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PreferredOCRMethod: bank.OCRDefault,
		LoginRate:          2,
		LoginBurst:         4,
	}
}

// Manager is the session cache. Lookup-or-create is atomic per username,
// and handles never log in eagerly.
type Manager struct {
	factory bank.Factory
	vault   account.CredentialVault
	config  Config
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics metrics.MetricsCollector

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates an empty session cache.
func NewManager(factory bank.Factory, vault account.CredentialVault, config Config, logger *logging.Logger, collector metrics.MetricsCollector) *Manager {
	if vault == nil {
		vault = account.PlainVault{}
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if config.PreferredOCRMethod == "" {
		config.PreferredOCRMethod = bank.OCRDefault
	}

	m := &Manager{
		factory: factory,
		vault:   vault,
		config:  config,
		logger:  logger.Named("session"),
		metrics: metrics.OrNoOp(collector),
		handles: make(map[string]*Handle),
	}
	if config.LoginRate > 0 {
		burst := config.LoginBurst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(config.LoginRate), burst)
	}
	return m
}

// Get returns the cached handle for acc.Username, creating one if absent.
// Creating a handle does not contact the backend.
func (m *Manager) Get(ctx context.Context, acc *account.Account) (*Handle, error) {
	if h, ok := m.Peek(acc.Username); ok {
		return h, nil
	}

	password, err := m.vault.BankingPassword(ctx, acc)
	if err != nil {
		return nil, fmt.Errorf("session: credential for %s: %w", acc.Username, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another request may have created it while the vault was consulted.
	if h, ok := m.handles[acc.Username]; ok {
		return h, nil
	}

	h := &Handle{
		username: acc.Username,
		manager:  m,
		client: m.factory(bank.Config{
			Username:           acc.Username,
			Password:           password,
			PreferredOCRMethod: m.config.PreferredOCRMethod,
			SaveWasm:           m.config.SaveWasm,
		}),
	}
	m.handles[acc.Username] = h
	m.metrics.RecordSessionCount(len(m.handles))
	m.logger.Debug("Session handle created", zap.String("username", acc.Username))
	return h, nil
}

// Peek returns the cached handle without creating one.
func (m *Manager) Peek(username string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[username]
	return h, ok
}

// Remove evicts the handle for username. Removing an absent key is a no-op.
func (m *Manager) Remove(username string) {
	m.mu.Lock()
	_, existed := m.handles[username]
	delete(m.handles, username)
	n := len(m.handles)
	m.mu.Unlock()

	if existed {
		m.metrics.RecordSessionCount(n)
		m.logger.Debug("Session handle removed", zap.String("username", username))
	}
}

// Logout is Remove under the name the API exposes.
func (m *Manager) Logout(username string) {
	m.Remove(username)
}

// evict removes h only if it is still the cached handle for its username,
// so a late failure on an old handle cannot drop a newer one.
func (m *Manager) evict(h *Handle) bool {
	m.mu.Lock()
	cur, ok := m.handles[h.username]
	if !ok || cur != h {
		m.mu.Unlock()
		return false
	}
	delete(m.handles, h.username)
	n := len(m.handles)
	m.mu.Unlock()

	m.metrics.RecordSessionCount(n)
	return true
}

// Len returns the number of cached handles.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Usernames returns the usernames with a cached handle.
func (m *Manager) Usernames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handles))
	for u := range m.handles {
		out = append(out, u)
	}
	return out
}

func (m *Manager) waitLoginSlot(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("session: login throttle: %w", err)
	}
	return nil
}
