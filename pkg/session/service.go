package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"

	"go.uber.org/zap"
)

// Result is the outcome of a login or status probe.
type Result struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	ErrorType bank.ErrorType  `json:"error_type,omitempty"`
}

// OpError is a banking operation that failed after the retry budget.
type OpError struct {
	Op   string
	Type bank.ErrorType
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// AsOpError extracts an *OpError from the chain.
func AsOpError(err error) (*OpError, bool) {
	var e *OpError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Service runs banking operations through the session cache.
type Service struct {
	manager *Manager
	logger  *logging.Logger
	metrics metrics.MetricsCollector
}

// NewService creates the orchestrator.
func NewService(manager *Manager, logger *logging.Logger, collector metrics.MetricsCollector) *Service {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Service{
		manager: manager,
		logger:  logger.Named("bank"),
		metrics: metrics.OrNoOp(collector),
	}
}

// Manager returns the session cache the service runs on.
func (s *Service) Manager() *Manager { return s.manager }

// Login forces a backend login for acc. A transient failure is retried
// once on a fresh handle; a credential rejection is not.
func (s *Service) Login(ctx context.Context, acc *account.Account) Result {
	data, err := s.run(ctx, acc, bank.OpLogin, func(ctx context.Context, h *Handle, _ bool) (json.RawMessage, error) {
		return h.Login(ctx)
	})
	if err != nil {
		errType := errorTypeOf(err)
		cause := err
		if opErr, ok := AsOpError(err); ok {
			cause = opErr.Err
		}
		msg := "login failed: " + cause.Error()
		switch errType {
		case bank.ErrorInvalidCredentials:
			msg = "login failed: wrong username or password"
		case bank.ErrorSessionExpired:
			errType = bank.ErrorUnknown
		}
		return Result{Success: false, Message: msg, ErrorType: errType}
	}
	return Result{Success: true, Message: "login successful", Data: data}
}

// CheckLoginStatus probes the session with a balance fetch. It never
// retries; a backend failure evicts the handle and is reported as either
// invalid_credentials or session_expired.
func (s *Service) CheckLoginStatus(ctx context.Context, acc *account.Account) Result {
	h, err := s.manager.Get(ctx, acc)
	if err == nil {
		if err = h.EnsureLogin(ctx); err == nil {
			_, err = h.Client().GetBalance(ctx)
		}
		if err != nil && !abandoned(ctx, err) {
			h.fail(err)
			s.manager.evict(h)
		}
	}

	if err != nil {
		s.logger.Info("Login status probe failed",
			zap.String("username", acc.Username),
			zap.Error(err),
		)
		if bank.IsCredentialFailure(err) {
			return Result{Success: false, Message: "wrong username or password", ErrorType: bank.ErrorInvalidCredentials}
		}
		return Result{Success: false, Message: "not logged in or session expired", ErrorType: bank.ErrorSessionExpired}
	}

	data, _ := json.Marshal(map[string]string{"username": acc.Username})
	return Result{Success: true, Message: "logged in", Data: data}
}

// GetBalance returns the raw balance payload for acc.
func (s *Service) GetBalance(ctx context.Context, acc *account.Account) (json.RawMessage, error) {
	return s.run(ctx, acc, bank.OpBalance, func(ctx context.Context, h *Handle, fresh bool) (json.RawMessage, error) {
		if err := s.login(ctx, h, fresh); err != nil {
			return nil, err
		}
		return h.Client().GetBalance(ctx)
	})
}

// GetTransactionHistory returns the raw history payload. Dates in params
// must already be validated.
func (s *Service) GetTransactionHistory(ctx context.Context, acc *account.Account, params bank.TransactionParams) (json.RawMessage, error) {
	return s.run(ctx, acc, bank.OpTransactions, func(ctx context.Context, h *Handle, fresh bool) (json.RawMessage, error) {
		if err := s.login(ctx, h, fresh); err != nil {
			return nil, err
		}
		return h.Client().GetTransactionsHistory(ctx, params)
	})
}

// Logout drops the cached session for username.
func (s *Service) Logout(username string) {
	s.manager.Logout(username)
}

// login reuses an authenticated handle on the first attempt and forces a
// fresh login on the retry.
func (s *Service) login(ctx context.Context, h *Handle, fresh bool) error {
	if fresh {
		_, err := h.Login(ctx)
		return err
	}
	return h.EnsureLogin(ctx)
}

type attemptFunc func(ctx context.Context, h *Handle, fresh bool) (json.RawMessage, error)

// run performs one attempt and, when the failure is retryable, exactly one
// more on a fresh handle. Every failed handle is evicted.
func (s *Service) run(ctx context.Context, acc *account.Account, op string, attempt attemptFunc) (json.RawMessage, error) {
	data, err := s.attempt(ctx, acc, attempt, false)
	if err == nil {
		return data, nil
	}
	if !retryable(err) || ctx.Err() != nil {
		s.logger.Warn("Banking operation failed",
			zap.String("op", op),
			zap.String("username", acc.Username),
			zap.String("error_type", string(errorTypeOf(err))),
			zap.Error(err),
		)
		return nil, s.opError(op, err)
	}

	s.metrics.RecordRelogin(op)
	s.logger.Info("Retrying after relogin",
		zap.String("op", op),
		zap.String("username", acc.Username),
		zap.Error(err),
	)

	data, err = s.attempt(ctx, acc, attempt, true)
	if err != nil {
		s.logger.Warn("Banking operation failed after relogin",
			zap.String("op", op),
			zap.String("username", acc.Username),
			zap.String("error_type", string(errorTypeOf(err))),
			zap.Error(err),
		)
		return nil, s.opError(op, err)
	}
	return data, nil
}

func (s *Service) attempt(ctx context.Context, acc *account.Account, fn attemptFunc, fresh bool) (json.RawMessage, error) {
	h, err := s.manager.Get(ctx, acc)
	if err != nil {
		return nil, err
	}
	data, err := fn(ctx, h, fresh)
	if err != nil {
		if !abandoned(ctx, err) {
			h.fail(err)
			s.manager.evict(h)
		}
		return nil, err
	}
	return data, nil
}

func (s *Service) opError(op string, err error) error {
	if _, ok := AsOpError(err); ok {
		return err
	}
	return &OpError{Op: op, Type: errorTypeOf(err), Err: err}
}

func retryable(err error) bool {
	if errors.Is(err, account.ErrNoCredential) {
		return false
	}
	return bank.Retryable(err)
}

// errorTypeOf classifies err; a missing vault credential counts as a
// credential failure.
func errorTypeOf(err error) bank.ErrorType {
	if opErr, ok := AsOpError(err); ok {
		return opErr.Type
	}
	if errors.Is(err, account.ErrNoCredential) {
		return bank.ErrorInvalidCredentials
	}
	return bank.Classify(err)
}
