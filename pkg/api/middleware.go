package api

import (
	"net/http"
	"time"

	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/ratelimit"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// securityHeaders are set on every response.
var securityHeaders = map[string]string{
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "1; mode=block",
	"X-Content-Type-Options":    "nosniff",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Content-Security-Policy":   "default-src 'self'; script-src 'self'; connect-src 'self'; img-src 'self'; style-src 'self';",
	"Referrer-Policy":           "same-origin",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=()",
}

// middleware wraps the router, outermost first: panic recovery, request id,
// access log and metrics, security headers, CORS, rate limiting.
func (s *Server) middleware(router *mux.Router) http.Handler {
	var h http.Handler = router

	if s.deps.Limiter != nil {
		h = ratelimit.Middleware(ratelimit.Options{
			Limiter:     s.deps.Limiter,
			Stats:       s.deps.RateStats,
			KeyFn:       s.deps.KeyFn,
			ErrorWriter: s.writeError,
			Logger:      s.deps.Logger,
			Metrics:     s.deps.Metrics,
		})(h)
	}

	h = cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", RequestIDHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", RequestIDHeader},
		MaxAge:         300,
	})(h)

	h = withSecurityHeaders(h)
	h = s.observe(router, h)
	h = s.withRequestID(h)
	h = s.recoverPanics(h)
	return h
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// withRequestID tags the request with an id and a request scoped logger.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := s.logger.With(zap.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(logging.IntoContext(r.Context(), logger)))
	})
}

// observe writes the access log line and HTTP metrics. Routes are labelled
// by their template so ids do not explode metric cardinality.
func (s *Server) observe(router *mux.Router, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(srw, r)

		duration := time.Since(start)
		route := routeTemplate(router, r)
		s.metrics.RecordHTTPRequest(r.Method, route, srw.statusCode, duration)

		logging.FromContext(r.Context(), s.logger).Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", srw.statusCode),
			zap.Duration("duration", duration),
			zap.String("client", r.RemoteAddr),
		)
	})
}

func routeTemplate(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.FromContext(r.Context(), s.logger).Error("Handler panicked",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				writeJSON(w, http.StatusInternalServerError, envelope{Message: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusResponseWriter captures the status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
