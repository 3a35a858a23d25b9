package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/account/cached"
	"bank-gateway/pkg/account/postgres"
	"bank-gateway/pkg/api"
	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/bank/httpbridge"
	"bank-gateway/pkg/config"
	"bank-gateway/pkg/logging"
	promMetrics "bank-gateway/pkg/metrics/prometheus"
	"bank-gateway/pkg/ratelimit"
	"bank-gateway/pkg/resilience"
	"bank-gateway/pkg/session"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLoggerFromSettings(cfg.LogLevel, cfg.LogFormat, cfg.LogDev)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting bank gateway",
		zap.String("env", cfg.AppEnv),
		zap.String("store", cfg.StoreDriver),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := promMetrics.NewPrometheusCollector("bank_gateway")
	if err := metricsCollector.Register(registry); err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Accounts
	var backing account.Store
	switch cfg.StoreDriver {
	case "postgres":
		pgConfig := postgres.DefaultConfig()
		pgConfig.DSN = cfg.DatabaseURL
		pg, err := postgres.New(ctx, pgConfig)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		backing = pg
		logger.Info("✓ Account store (PostgreSQL) initialized")
	default:
		backing = account.NewMemoryStore()
		logger.Info("✓ Account store (memory) initialized")
	}

	cacheConfig := cached.DefaultConfig()
	cacheConfig.TTL = cfg.AccountCacheTTL
	cacheConfig.NegativeTTL = cfg.AccountCacheNegativeTTL
	// Only this process writes to the memory store, so the bloom filter
	// cannot miss a token created elsewhere.
	cacheConfig.Bloom = cfg.StoreDriver == "memory"
	accounts, err := cached.New(ctx, backing, cacheConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal("Failed to build account cache", zap.Error(err))
	}
	defer accounts.Close()

	// Banking backend
	breaker := resilience.NewBreaker("bank",
		resilience.DefaultResilientConfig().
			WithTimeout(cfg.BankCallTimeout).
			WithCircuitBreakerTimeout(cfg.BankBreakerTimeout).
			WithConsecutiveFailures(cfg.BankBreakerFailures),
		logger, metricsCollector,
	)
	bridge := httpbridge.DefaultOptions()
	bridge.BaseURL = cfg.BankBridgeURL
	bridge.HTTPClient = &http.Client{Timeout: cfg.BankCallTimeout + 5*time.Second}
	factory := breaker.Wrap(httpbridge.NewFactory(bridge))

	manager := session.NewManager(factory, account.PlainVault{}, session.Config{
		PreferredOCRMethod: bank.ParseOCRMethod(cfg.PreferOCRMethod),
		SaveWasm:           cfg.SaveWasm,
		LoginRate:          cfg.BankLoginRPS,
		LoginBurst:         cfg.BankLoginBurst,
	}, logger, metricsCollector)
	service := session.NewService(manager, logger, metricsCollector)
	logger.Info("✓ Session manager initialized", zap.String("bridge", cfg.BankBridgeURL))

	// Rate limiting
	limitConfig := ratelimit.Config{
		Limit:           cfg.RateLimitMax,
		Window:          cfg.RateLimitWindow,
		CleanupInterval: cfg.RateLimitCleanup,
	}
	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		rc := ratelimit.DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		rl, err := ratelimit.NewRedisLimiter(limitConfig, rc, logger)
		if err != nil {
			logger.Fatal("Failed to connect rate limiter to Redis", zap.Error(err))
		}
		defer rl.Close()
		limiter = rl
	default:
		ml := ratelimit.NewMemoryLimiter(limitConfig, logger)
		ml.StartJanitor(ctx)
		limiter = ml
	}
	logger.Info("✓ Rate limiter initialized",
		zap.Int("limit", limitConfig.Limit),
		zap.Duration("window", limitConfig.Window),
	)

	var rateStats ratelimit.StatsStore
	if cfg.RateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("Failed to reach Redis for rate stats", zap.Error(err))
		}

		recorder := ratelimit.NewAsyncRecorder(
			ratelimit.NewRedisStatsStore(rdb, ratelimit.WithStatsPrefix(cfg.RateStatsPrefix)),
			ratelimit.AsyncRecorderConfig{},
			logger, metricsCollector,
		)
		defer recorder.Close()
		rateStats = recorder
		logger.Info("✓ Rate stats enabled", zap.String("prefix", cfg.RateStatsPrefix))
	}

	// HTTP
	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = cfg.Address()
	serverConfig.ReadTimeout = cfg.HTTPReadTimeout
	serverConfig.WriteTimeout = cfg.HTTPWriteTimeout
	serverConfig.AllowedOrigins = cfg.CORSAllowedOrigins
	serverConfig.Development = cfg.Development()

	server := api.NewServer(api.Deps{
		Accounts:  accounts,
		Service:   service,
		Limiter:   limiter,
		RateStats: rateStats,
		KeyFn:     ratelimit.DefaultKeyFunc(cfg.RateLimitTrustXFF),
		Breaker:   breaker,
		Gatherer:  registry,
		Logger:    logger,
		Metrics:   metricsCollector,
	}, serverConfig)

	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	logger.Info("🚀 Bank gateway listening", zap.String("addr", serverConfig.Address))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
