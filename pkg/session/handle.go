package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"bank-gateway/pkg/bank"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is where a handle is in its login lifecycle.
type State int

const (
	// Uninitialized handles have not logged in yet.
	Uninitialized State = iota
	// Authenticated handles logged in successfully. The backend may still
	// have expired the session; that is only discovered on use.
	Authenticated
	// Failed handles were rejected with a credential error and are evicted.
	Failed
	// Expired handles failed transiently and are evicted.
	Expired
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Handle is one cached connection to the banking backend for a username.
// Concurrent logins on the same handle collapse into one backend call.
type Handle struct {
	username string
	client   bank.Client
	manager  *Manager

	mu    sync.Mutex
	state State

	login singleflight.Group
}

// Username returns the account the handle belongs to.
func (h *Handle) Username() string { return h.username }

// Client returns the underlying backend client.
func (h *Handle) Client() bank.Client { return h.client }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// EnsureLogin logs in unless the handle is already authenticated.
func (h *Handle) EnsureLogin(ctx context.Context) error {
	if h.State() == Authenticated {
		return nil
	}
	_, err := h.doLogin(ctx, false)
	return err
}

// Login drives a backend login even if the handle is authenticated.
// Callers arriving while a login is in flight share its outcome.
func (h *Handle) Login(ctx context.Context) (json.RawMessage, error) {
	return h.doLogin(ctx, true)
}

func (h *Handle) doLogin(ctx context.Context, force bool) (json.RawMessage, error) {
	// The flight outlives any single caller; the bank call timeout still
	// bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := h.login.DoChan("login", func() (interface{}, error) {
		// A login that finished between the caller's state check and
		// this flight already did the work.
		if !force && h.State() == Authenticated {
			return json.RawMessage(nil), nil
		}
		if err := h.manager.waitLoginSlot(flightCtx); err != nil {
			return nil, err
		}

		data, err := h.client.Login(flightCtx)
		h.manager.metrics.RecordLogin(err == nil)
		if err != nil {
			h.fail(err)
			return nil, err
		}
		h.setState(Authenticated)
		h.manager.logger.Info("Backend login succeeded", zap.String("username", h.username))
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			h.manager.logger.Debug("Joined in-flight login", zap.String("username", h.username))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		data, _ := res.Val.(json.RawMessage)
		return data, nil
	}
}

// abandoned reports whether err came from the caller giving up rather
// than from the backend. Such failures leave the handle as it is.
func abandoned(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

// fail moves the handle to Failed or Expired depending on err.
func (h *Handle) fail(err error) {
	if bank.IsCredentialFailure(err) {
		h.setState(Failed)
	} else {
		h.setState(Expired)
	}
}
