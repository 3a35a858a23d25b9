// Package auth resolves the bearer credential on a request to an active
// account and hands it to handlers as an explicit principal.
package auth

import (
	"context"
	"net/http"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/apperr"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"

	"go.uber.org/zap"
)

// Authentication outcomes reported to metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeMissing   = "missing"
	OutcomeMalformed = "malformed"
	OutcomeUnknown   = "unknown"
	OutcomeInactive  = "inactive"
	OutcomeError     = "error"
)

// Authenticator checks credentials against an account store.
type Authenticator struct {
	store   account.Store
	logger  *logging.Logger
	metrics metrics.MetricsCollector
}

func NewAuthenticator(store account.Store, logger *logging.Logger, collector metrics.MetricsCollector) *Authenticator {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Authenticator{
		store:   store,
		logger:  logger.Named("auth"),
		metrics: metrics.OrNoOp(collector),
	}
}

// Authenticate returns the active account owning the request's credential.
// Failures are *apperr.Error values: BadRequest for a malformed credential,
// Unauthorized otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*account.Account, error) {
	tok := ExtractToken(r)
	if tok == "" {
		a.metrics.RecordAuth(OutcomeMissing)
		return nil, apperr.Unauthorized("no credential presented")
	}
	if !WellFormed(tok) {
		a.metrics.RecordAuth(OutcomeMalformed)
		return nil, apperr.BadRequest("malformed credential")
	}

	acc, err := a.store.FindByToken(ctx, tok)
	if err != nil {
		a.metrics.RecordAuth(OutcomeError)
		a.logger.Error("Account lookup failed", zap.Error(err))
		return nil, apperr.Internal("account lookup failed", err)
	}
	if acc == nil {
		a.metrics.RecordAuth(OutcomeUnknown)
		return nil, apperr.Unauthorized("invalid or expired credential")
	}

	switch acc.Status {
	case account.StatusActive:
	case account.StatusLocked:
		a.metrics.RecordAuth(OutcomeInactive)
		a.logger.Info("Rejected locked account", zap.String("username", acc.Username))
		return nil, apperr.Unauthorized("account is locked")
	default:
		a.metrics.RecordAuth(OutcomeInactive)
		a.logger.Info("Rejected inactive account", zap.String("username", acc.Username))
		return nil, apperr.Unauthorized("account is inactive")
	}

	a.metrics.RecordAuth(OutcomeSuccess)
	return acc, nil
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates every request and stores the principal in the
// request context. Failures are rendered with writeErr and stop the chain.
func (a *Authenticator) Middleware(writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, err := a.Authenticate(r.Context(), r)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), acc)))
		})
	}
}

type principalKey struct{}

// WithPrincipal returns a context carrying acc.
func WithPrincipal(ctx context.Context, acc *account.Account) context.Context {
	return context.WithValue(ctx, principalKey{}, acc)
}

// PrincipalFrom returns the authenticated account stored in ctx.
func PrincipalFrom(ctx context.Context) (*account.Account, bool) {
	acc, ok := ctx.Value(principalKey{}).(*account.Account)
	return acc, ok && acc != nil
}
