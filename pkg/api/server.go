// Package api is the HTTP surface of the gateway: account management,
// banking operations and the operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/auth"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"
	"bank-gateway/pkg/ratelimit"
	"bank-gateway/pkg/resilience"
	"bank-gateway/pkg/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., "0.0.0.0:3000")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64

	// AllowedOrigins for CORS. "*" allows any origin.
	AllowedOrigins []string

	// Development includes internal error text in 500 responses.
	Development bool
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        "0.0.0.0:3000",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
	}
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Accounts account.Store
	Service  *session.Service
	Auth     *auth.Authenticator

	// Limiter guards every request when set.
	Limiter   ratelimit.Limiter
	RateStats ratelimit.StatsStore
	KeyFn     ratelimit.KeyFunc

	// Breaker is reported by /health when set.
	Breaker *resilience.Breaker

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	Logger  *logging.Logger
	Metrics metrics.MetricsCollector

	// Now is the clock used for date validation.
	Now func() time.Time
}

// Server provides the gateway's HTTP endpoints.
type Server struct {
	deps    Deps
	config  ServerConfig
	logger  *logging.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
	started time.Time

	router  *mux.Router
	handler http.Handler
	server  *http.Server
}

// NewServer wires the routes and middleware.
func NewServer(deps Deps, config ServerConfig) *Server {
	def := DefaultServerConfig()
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = def.AllowedOrigins
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoOpLogger()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewAuthenticator(deps.Accounts, deps.Logger, deps.Metrics)
	}

	s := &Server{
		deps:    deps,
		config:  config,
		logger:  deps.Logger.Named("api"),
		metrics: metrics.OrNoOp(deps.Metrics),
		now:     deps.Now,
		started: time.Now(),
	}

	s.router = s.routes()
	s.handler = s.middleware(s.router)

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Accounts
	r.HandleFunc("/api/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	r.Handle("/api/accounts", s.authed(s.handleListAccounts)).Methods(http.MethodGet)
	r.Handle("/api/accounts/me", s.authed(s.handleMe)).Methods(http.MethodGet)
	r.Handle("/api/accounts/{id}", s.authed(s.handleGetAccount)).Methods(http.MethodGet)
	r.Handle("/api/accounts/{id}", s.authed(s.handleUpdateAccount)).Methods(http.MethodPut)
	r.Handle("/api/accounts/{id}", s.authed(s.handleDeleteAccount)).Methods(http.MethodDelete)

	// Banking; the /me routes must be registered before /{id}.
	r.Handle("/api/mbbank/me/balance", s.authed(s.handleMyBalance)).Methods(http.MethodGet)
	r.Handle("/api/mbbank/me/transactions", s.authed(s.handleMyTransactions)).Methods(http.MethodGet)
	r.Handle("/api/mbbank/me/transactions/days", s.authed(s.handleMyTransactionsByDays)).Methods(http.MethodGet)
	r.Handle("/api/mbbank/me/status", s.authed(s.handleMyStatus)).Methods(http.MethodGet)
	r.HandleFunc("/api/mbbank/{id}/login", s.handleLogin).Methods(http.MethodPost)
	r.Handle("/api/mbbank/{id}/status", s.authed(s.handleStatus)).Methods(http.MethodGet)
	r.Handle("/api/mbbank/{id}/balance", s.authed(s.handleBalance)).Methods(http.MethodGet)
	r.Handle("/api/mbbank/{id}/transactions", s.authed(s.handleTransactions)).Methods(http.MethodGet)
	r.Handle("/api/mbbank/{id}/transactions/days", s.authed(s.handleTransactionsByDays)).Methods(http.MethodGet)
	r.Handle("/api/mbbank/{id}/logout", s.authed(s.handleLogout)).Methods(http.MethodPost)

	return r
}

// authed requires a valid credential before h runs.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return s.deps.Auth.Middleware(s.writeError)(h)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "bank gateway ready",
		"endpoints": map[string]string{
			"accounts": "/api/accounts",
			"mbbank":   "/api/mbbank",
			"health":   "/health",
			"metrics":  "/metrics",
		},
	})
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	}
	if s.deps.Service != nil {
		response["sessions"] = s.deps.Service.Manager().Len()
	}
	if s.deps.Breaker != nil {
		response["bank_circuit"] = s.deps.Breaker.State().String()
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, envelope{Message: "endpoint not found"})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: "method not allowed"})
}
