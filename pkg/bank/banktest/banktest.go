// Package banktest provides a scriptable fake banking backend.
package banktest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"bank-gateway/pkg/bank"
)

// Default payloads returned when no hook is set.
var (
	LoginPayload        = json.RawMessage(`{"result":{"ok":true}}`)
	BalancePayload      = json.RawMessage(`{"totalBalance":"1000000","currencyEquivalent":"VND"}`)
	TransactionsPayload = json.RawMessage(`[]`)
)

// Backend is a fake bank. Every client it builds shares its hooks and
// counters. Hooks must be set before the backend is used concurrently.
type Backend struct {
	// Function hooks - set these to customize behavior
	LoginFunc        func(ctx context.Context, cfg bank.Config) (json.RawMessage, error)
	BalanceFunc      func(ctx context.Context, cfg bank.Config) (json.RawMessage, error)
	TransactionsFunc func(ctx context.Context, cfg bank.Config, p bank.TransactionParams) (json.RawMessage, error)

	// Call tracking (must use atomic operations for race-free access)
	loginCalls        int64
	balanceCalls      int64
	transactionsCalls int64
	created           int64

	mu      sync.Mutex
	configs []bank.Config
}

// NewBackend creates a backend where every call succeeds.
func NewBackend() *Backend {
	return &Backend{}
}

// Factory returns a bank.Factory building clients bound to b.
func (b *Backend) Factory() bank.Factory {
	return func(cfg bank.Config) bank.Client {
		atomic.AddInt64(&b.created, 1)
		b.mu.Lock()
		b.configs = append(b.configs, cfg)
		b.mu.Unlock()
		return &Client{backend: b, cfg: cfg}
	}
}

// LoginCalls returns the number of Login calls (thread-safe).
func (b *Backend) LoginCalls() int { return int(atomic.LoadInt64(&b.loginCalls)) }

// BalanceCalls returns the number of GetBalance calls (thread-safe).
func (b *Backend) BalanceCalls() int { return int(atomic.LoadInt64(&b.balanceCalls)) }

// TransactionsCalls returns the number of GetTransactionsHistory calls (thread-safe).
func (b *Backend) TransactionsCalls() int { return int(atomic.LoadInt64(&b.transactionsCalls)) }

// Created returns the number of clients the factory built.
func (b *Backend) Created() int { return int(atomic.LoadInt64(&b.created)) }

// Configs returns the configs clients were built with, in order.
func (b *Backend) Configs() []bank.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bank.Config, len(b.configs))
	copy(out, b.configs)
	return out
}

// Client is a fake bank.Client.
type Client struct {
	backend *Backend
	cfg     bank.Config
}

func (c *Client) Login(ctx context.Context) (json.RawMessage, error) {
	atomic.AddInt64(&c.backend.loginCalls, 1)
	if c.backend.LoginFunc != nil {
		return c.backend.LoginFunc(ctx, c.cfg)
	}
	return LoginPayload, nil
}

func (c *Client) GetBalance(ctx context.Context) (json.RawMessage, error) {
	atomic.AddInt64(&c.backend.balanceCalls, 1)
	if c.backend.BalanceFunc != nil {
		return c.backend.BalanceFunc(ctx, c.cfg)
	}
	return BalancePayload, nil
}

func (c *Client) GetTransactionsHistory(ctx context.Context, p bank.TransactionParams) (json.RawMessage, error) {
	atomic.AddInt64(&c.backend.transactionsCalls, 1)
	if c.backend.TransactionsFunc != nil {
		return c.backend.TransactionsFunc(ctx, c.cfg, p)
	}
	return TransactionsPayload, nil
}

// FailN returns a hook that fails the first n calls with err and then
// returns payload.
func FailN(n int, err error, payload json.RawMessage) func(context.Context, bank.Config) (json.RawMessage, error) {
	var calls int64
	return func(context.Context, bank.Config) (json.RawMessage, error) {
		if atomic.AddInt64(&calls, 1) <= int64(n) {
			return nil, err
		}
		return payload, nil
	}
}
