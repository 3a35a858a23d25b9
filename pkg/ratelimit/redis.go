package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bank-gateway/pkg/logging"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// windowScript applies the fixed-window rule atomically.
// KEYS[1] = record key
// ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = limit
// Returns {allowed, count, windowStart}.
var windowScript = rueidis.NewLuaScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start') or '0')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if start == 0 or now >= start + window then
	start = now
	count = 0
end
local allowed = 0
if count < limit then
	count = count + 1
	allowed = 1
end
redis.call('HSET', KEYS[1], 'start', start, 'count', count)
redis.call('PEXPIRE', KEYS[1], window)
return {allowed, count, start}
`)

// RedisConfig configures the shared limiter backend.
type RedisConfig struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// DefaultRedisConfig returns a local single-node configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		KeyPrefix:   "ratelimit:",
		DialTimeout: 5 * time.Second,
	}
}

// RedisLimiter shares window records between gateway instances. Idle
// records expire on their own, so no janitor is needed.
type RedisLimiter struct {
	client rueidis.Client
	config Config
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(config Config, rc RedisConfig, logger *logging.Logger) (*RedisLimiter, error) {
	if rc.Addr == "" {
		return nil, fmt.Errorf("ratelimit: no redis address configured")
	}
	if rc.DialTimeout <= 0 {
		rc.DialTimeout = DefaultRedisConfig().DialTimeout
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{rc.Addr},
		Username:     rc.Username,
		Password:     rc.Password,
		SelectDB:     rc.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: failed to create redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rc.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: failed to connect to redis: %w", err)
	}

	l := &RedisLimiter{
		client: client,
		config: config.withDefaults(),
		prefix: rc.KeyPrefix,
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
	l.logger.Info("Connected rate limiter to redis", zap.String("addr", rc.Addr))
	return l, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	now := l.now()
	window := l.config.Window.Milliseconds()
	args := []string{
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(window, 10),
		strconv.Itoa(l.config.Limit),
	}

	res, err := windowScript.Exec(ctx, l.client, []string{l.prefix + key}, args).ToArray()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: redis script returned %d values", len(res))
	}

	var vals [3]int64
	for i := range res {
		if vals[i], err = res[i].AsInt64(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: redis script: %w", err)
		}
	}

	reset := time.UnixMilli(vals[2] + window)
	dec := Decision{
		Allowed:   vals[0] == 1,
		Limit:     l.config.Limit,
		Remaining: l.config.Limit - int(vals[1]),
		ResetAt:   reset,
	}
	if !dec.Allowed {
		dec.Remaining = 0
		dec.RetryAfter = reset.Sub(now)
	}
	return dec, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() {
	l.client.Close()
}
