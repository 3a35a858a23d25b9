// Package config loads the gateway settings from an optional .env file and
// the process environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the gateway reads at startup.
type Config struct {
	Port             int           `mapstructure:"PORT"`
	Host             string        `mapstructure:"HOST"`
	HTTPReadTimeout  time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	AppEnv           string        `mapstructure:"APP_ENV"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogDev    bool   `mapstructure:"LOG_DEV"`

	StoreDriver             string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	AccountCacheTTL         time.Duration `mapstructure:"ACCOUNT_CACHE_TTL"`
	AccountCacheNegativeTTL time.Duration `mapstructure:"ACCOUNT_CACHE_NEGATIVE_TTL"`

	PreferOCRMethod string `mapstructure:"PREFER_OCR_METHOD"`
	SaveWasm        bool   `mapstructure:"SAVE_WASM"`

	BankBridgeURL       string        `mapstructure:"BANK_BRIDGE_URL"`
	BankCallTimeout     time.Duration `mapstructure:"BANK_CALL_TIMEOUT"`
	BankLoginRPS        float64       `mapstructure:"BANK_LOGIN_RPS"`
	BankLoginBurst      int           `mapstructure:"BANK_LOGIN_BURST"`
	BankBreakerTimeout  time.Duration `mapstructure:"BANK_BREAKER_TIMEOUT"`
	BankBreakerFailures uint32        `mapstructure:"BANK_BREAKER_FAILURES"`

	RateLimitMax      int           `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitCleanup  time.Duration `mapstructure:"RATE_LIMIT_CLEANUP"`
	RateLimitTrustXFF bool          `mapstructure:"RATE_LIMIT_TRUST_XFF"`
	RateLimitBackend  string        `mapstructure:"RATE_LIMIT_BACKEND"`

	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int    `mapstructure:"REDIS_DB"`
	RateStatsEnabled bool   `mapstructure:"RATE_STATS_ENABLED"`
	RateStatsPrefix  string `mapstructure:"RATE_STATS_PREFIX"`

	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var defaults = map[string]any{
	"PORT":               3000,
	"HOST":               "0.0.0.0",
	"HTTP_READ_TIMEOUT":  "15s",
	"HTTP_WRITE_TIMEOUT": "60s",
	"APP_ENV":            "production",

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "json",
	"LOG_DEV":    false,

	"STORE_DRIVER":               "memory",
	"DATABASE_URL":               "",
	"ACCOUNT_CACHE_TTL":          "30s",
	"ACCOUNT_CACHE_NEGATIVE_TTL": "5s",

	"PREFER_OCR_METHOD": "default",
	"SAVE_WASM":         false,

	"BANK_BRIDGE_URL":       "http://localhost:8090",
	"BANK_CALL_TIMEOUT":     "30s",
	"BANK_LOGIN_RPS":        2,
	"BANK_LOGIN_BURST":      4,
	"BANK_BREAKER_TIMEOUT":  "30s",
	"BANK_BREAKER_FAILURES": 5,

	"RATE_LIMIT_MAX":       100,
	"RATE_LIMIT_WINDOW":    "15m",
	"RATE_LIMIT_CLEANUP":   "30m",
	"RATE_LIMIT_TRUST_XFF": false,
	"RATE_LIMIT_BACKEND":   "memory",

	"REDIS_ADDR":         "localhost:6379",
	"REDIS_PASSWORD":     "",
	"REDIS_DB":           0,
	"RATE_STATS_ENABLED": false,
	"RATE_STATS_PREFIX":  "ratelimit:stats",

	"CORS_ALLOWED_ORIGINS": "*",
}

// Load reads the optional .env file in dir, overlays the environment and
// validates the result.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read .env: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	c.CORSAllowedOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the gateway cannot start with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Port > 0 && c.Port <= 65535, "PORT must be between 1 and 65535, got %d", c.Port)
	check(c.HTTPReadTimeout > 0, "HTTP_READ_TIMEOUT must be positive")
	check(c.HTTPWriteTimeout > 0, "HTTP_WRITE_TIMEOUT must be positive")
	check(oneOf(c.LogFormat, "json", "console"), "LOG_FORMAT must be json or console, got %q", c.LogFormat)

	check(oneOf(c.StoreDriver, "memory", "postgres"), "STORE_DRIVER must be memory or postgres, got %q", c.StoreDriver)
	check(c.StoreDriver != "postgres" || c.DatabaseURL != "", "DATABASE_URL is required when STORE_DRIVER=postgres")
	check(c.AccountCacheTTL >= 0 && c.AccountCacheNegativeTTL >= 0, "ACCOUNT_CACHE_* TTLs must not be negative")

	check(oneOf(c.PreferOCRMethod, "default", "tesseract", "custom"), "PREFER_OCR_METHOD must be default, tesseract or custom, got %q", c.PreferOCRMethod)

	check(c.BankBridgeURL != "", "BANK_BRIDGE_URL is required")
	check(c.BankCallTimeout > 0, "BANK_CALL_TIMEOUT must be positive")
	check(c.BankLoginRPS >= 0, "BANK_LOGIN_RPS must not be negative")
	check(c.BankBreakerFailures > 0, "BANK_BREAKER_FAILURES must be positive")

	check(c.RateLimitMax > 0, "RATE_LIMIT_MAX must be positive, got %d", c.RateLimitMax)
	check(c.RateLimitWindow > 0, "RATE_LIMIT_WINDOW must be positive")
	check(oneOf(c.RateLimitBackend, "memory", "redis"), "RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimitBackend)
	needsRedis := c.RateLimitBackend == "redis" || c.RateStatsEnabled
	check(!needsRedis || c.RedisAddr != "", "REDIS_ADDR is required for the redis rate limiter and rate stats")

	check(len(c.CORSAllowedOrigins) > 0, "CORS_ALLOWED_ORIGINS must not be empty")

	return errors.Join(errs...)
}

// Address is the host:port the HTTP server listens on.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Development reports whether APP_ENV selects development behaviour.
func (c Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
