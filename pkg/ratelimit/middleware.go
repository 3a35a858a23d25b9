package ratelimit

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"bank-gateway/pkg/apperr"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/metrics"

	"go.uber.org/zap"
)

// ResetLayout is the X-RateLimit-Reset format (ISO 8601, UTC, milliseconds).
const ResetLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrorWriter renders a rejection. err is an *apperr.Error.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Options configures Middleware.
type Options struct {
	Limiter Limiter
	// Stats receives every decision when set. Wrap slow stores in an
	// AsyncRecorder.
	Stats       StatsStore
	KeyFn       KeyFunc
	ErrorWriter ErrorWriter
	Logger      *logging.Logger
	Metrics     metrics.MetricsCollector
	Now         func() time.Time
}

// Middleware admits or rejects each request before any other handler runs.
// Admitted responses carry the X-RateLimit-* headers. If the limiter
// backend fails the request is let through and the failure is logged.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(false)
	}
	if opts.ErrorWriter == nil {
		opts.ErrorWriter = writeJSONError
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.Named("ratelimit")
	collector := metrics.OrNoOp(opts.Metrics)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			if key == "" {
				opts.ErrorWriter(w, r, apperr.BadRequest("unable to determine client address"))
				return
			}

			dec, err := opts.Limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("Rate limiter unavailable, admitting request", zap.String("client", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			collector.RecordRateLimit(dec.Allowed)

			if opts.Stats != nil {
				ev := StatsEvent{Key: key, Allowed: dec.Allowed, Method: r.Method, Path: r.URL.Path, At: opts.Now()}
				if err := opts.Stats.Record(r.Context(), ev); err != nil && !errors.Is(err, ErrQueueFull) {
					logger.Debug("Failed to record rate limit stats", zap.Error(err))
				}
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			h.Set("X-RateLimit-Reset", dec.ResetAt.UTC().Format(ResetLayout))

			if !dec.Allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(dec.RetryAfter)))
				logger.Warn("Rate limit exceeded", zap.String("client", key), zap.String("path", r.URL.Path))
				opts.ErrorWriter(w, r, apperr.TooManyRequests(
					"too many requests, please try again after "+dec.ResetAt.UTC().Format(ResetLayout)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func writeJSONError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	if e, ok := apperr.As(err); ok {
		status = e.StatusCode()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": err.Error(),
	})
}
