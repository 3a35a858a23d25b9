// Package ratelimit bounds the number of requests a client may make per
// window. A client's window opens on its first request and resets once
// the window duration has elapsed.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned when a request has no usable client identifier.
var ErrEmptyKey = errors.New("ratelimit: empty client key")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the client's current window ends.
	ResetAt time.Time
	// RetryAfter is zero for admitted requests.
	RetryAfter time.Duration
}

// Limiter decides whether a request from key is admitted.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config configures a limiter.
type Config struct {
	// Limit is the number of requests admitted per window.
	Limit int
	// Window is the length of a client's window.
	Window time.Duration
	// CleanupInterval is how often idle records are reaped.
	CleanupInterval time.Duration
}

// DefaultConfig allows 100 requests per 15 minutes and sweeps every 30 minutes.
func DefaultConfig() Config {
	return Config{
		Limit:           100,
		Window:          15 * time.Minute,
		CleanupInterval: 30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Limit <= 0 {
		c.Limit = def.Limit
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	return c
}

// decide applies the window rule to a record snapshot. count is the
// number of admitted requests in the window starting at start.
func decide(limit int, window time.Duration, start time.Time, count int, now time.Time) (Decision, time.Time, int) {
	if !now.Before(start.Add(window)) {
		start, count = now, 0
	}

	reset := start.Add(window)
	if count >= limit {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    reset,
			RetryAfter: reset.Sub(now),
		}, start, count
	}

	count++
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   reset,
	}, start, count
}
