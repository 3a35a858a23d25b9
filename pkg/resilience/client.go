package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker is a circuit breaker shared by every client of one backend, so a
// failing backend is detected across accounts.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewBreaker creates the shared breaker for the named backend.
func NewBreaker(name string, config ResilientConfig, logger *logging.Logger, collector metrics.MetricsCollector) *Breaker {
	if logger == nil {
		logger = logging.L()
	}
	logger = logger.Named("resilience")
	b := &Breaker{
		timeout: config.Timeout,
		metrics: metrics.OrNoOp(collector),
		logger:  logger,
	}

	cbConfig := config.CircuitBreakerConfig
	threshold := cbConfig.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	logger.Info("circuit breaker initialized",
		zap.String("backend", name),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", cbConfig.MaxRequests),
		zap.Duration("circuit_interval", cbConfig.Interval),
		zap.Duration("circuit_timeout", cbConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cbConfig.MaxRequests,
		Interval:    cbConfig.Interval,
		Timeout:     cbConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cbConfig.ReadyToTrip != nil {
				return cbConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= threshold
		},
		// A rejected password or an abandoned request says nothing about
		// backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || bank.IsCredentialFailure(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			b.metrics.RecordCircuitState(name, state)
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)

	return b
}

// State returns the current breaker state.
func (b *Breaker) State() metrics.CircuitState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Wrap returns a factory whose clients run every call through b.
func (b *Breaker) Wrap(factory bank.Factory) bank.Factory {
	return func(cfg bank.Config) bank.Client {
		return &ResilientClient{client: factory(cfg), breaker: b, username: cfg.Username}
	}
}

// ResilientClient wraps a bank.Client with timeout and circuit breaker protection.
type ResilientClient struct {
	client   bank.Client
	breaker  *Breaker
	username string
}

func (rc *ResilientClient) Login(ctx context.Context) (json.RawMessage, error) {
	return rc.call(ctx, bank.OpLogin, rc.client.Login)
}

func (rc *ResilientClient) GetBalance(ctx context.Context) (json.RawMessage, error) {
	return rc.call(ctx, bank.OpBalance, rc.client.GetBalance)
}

func (rc *ResilientClient) GetTransactionsHistory(ctx context.Context, params bank.TransactionParams) (json.RawMessage, error) {
	return rc.call(ctx, bank.OpTransactions, func(ctx context.Context) (json.RawMessage, error) {
		return rc.client.GetTransactionsHistory(ctx, params)
	})
}

func (rc *ResilientClient) call(ctx context.Context, op string, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	b := rc.breaker
	start := time.Now()

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	duration := time.Since(start)

	if err != nil {
		err = rc.translate(ctx, callCtx, op, err, duration)
		b.metrics.RecordBankCall(op, string(bank.Classify(err)), duration)
		return nil, err
	}

	b.metrics.RecordBankCall(op, "success", duration)
	payload, _ := result.(json.RawMessage)
	return payload, nil
}

func (rc *ResilientClient) translate(parent, callCtx context.Context, op string, err error, duration time.Duration) error {
	b := rc.breaker

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", op),
			zap.String("username", rc.username),
		)
		return fmt.Errorf("%s: %w", op, bank.ErrUnavailable)
	}

	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.String("username", rc.username),
			zap.Duration("timeout", b.timeout),
			zap.Duration("elapsed", duration),
		)
		return fmt.Errorf("%s: %w", op, bank.ErrTimeout)
	}

	b.logger.Debug("backend call failed",
		zap.String("operation", op),
		zap.String("username", rc.username),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	return err
}
