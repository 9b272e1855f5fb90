// Command quickpe runs the wallet HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"quickpe/pkg/api"
	"quickpe/pkg/auth"
	"quickpe/pkg/cache"
	"quickpe/pkg/cache/bloom"
	"quickpe/pkg/cache/memory"
	"quickpe/pkg/cache/redis"
	"quickpe/pkg/chain"
	"quickpe/pkg/config"
	"quickpe/pkg/logging"
	promMetrics "quickpe/pkg/metrics/prometheus"
	"quickpe/pkg/notify"
	"quickpe/pkg/resilience"
	"quickpe/pkg/wallet"
	"quickpe/pkg/wallet/memstore"
	"quickpe/pkg/wallet/pgstore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// store is what both backends provide.
type store interface {
	wallet.Store
	auth.UserStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("quickpe stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting quickpe", zap.String("env", cfg.Env), zap.String("store", cfg.Store))

	var checks []api.HealthCheck

	// Wallet store
	var st store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; balances are lost on restart")
		st = memstore.New()
	default:
		pg, err := pgstore.Open(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pg.Close()
		checks = append(checks, api.HealthCheck{Name: "postgres", Check: pg.Ping, Critical: true})
		st = pg
	}

	// Metrics
	collector := promMetrics.NewPrometheusCollector("quickpe")
	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Directory cache: memory (L1) -> redis (L2) -> store (L3)
	// the chain owns and closes its layers
	layers := buildLayers(cfg, st, logger, &checks)
	directoryChain, err := chain.NewWithConfig(chain.ChainConfig{
		TTLStrategy:      chain.CustomTTLStrategy{TTLs: []time.Duration{cfg.Cache.MemoryTTL, cfg.Cache.RedisTTL}},
		WarmUpTTL:        cfg.Cache.RedisTTL,
		ResilientConfigs: resilientConfigs(len(layers)),
		Metrics:          collector,
		Logger:           logger,
	}, layers...)
	if err != nil {
		return fmt.Errorf("create cache chain: %w", err)
	}
	defer directoryChain.Close()
	logger.Info("directory cache ready", zap.String("layers", directoryChain.String()))

	directory := wallet.NewDirectory(directoryChain)
	hub := notify.NewHub(notify.Config{AllowedOrigins: cfg.HTTP.AllowedOrigins}, notify.WithLogger(logger))
	defer hub.Close()

	// Services
	walletSvc := wallet.NewService(st, cfg.Wallet,
		wallet.WithNotifier(wallet.Notifiers{directory, hub}),
		wallet.WithMetrics(collector),
		wallet.WithLogger(logger),
	)
	authSvc, err := auth.NewService(st, walletSvc, auth.Config{
		Secret:     []byte(cfg.Auth.Secret),
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, auth.WithLogger(logger))
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithDirectory(directory),
		api.WithNotifications(hub),
		api.WithMetrics(collector),
		api.WithMetricsHandler(promhttp.Handler()),
		api.WithLogger(logger),
	}
	for _, check := range checks {
		opts = append(opts, api.WithHealthCheck(check))
	}

	server := api.NewServer(walletSvc, authSvc, api.ServerConfig{
		Address:      cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, opts...)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// websockets are hijacked and not tracked by Shutdown
	hub.Close()
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped gracefully")
	return nil
}

// buildLayers assembles the directory layers. Redis is optional; when it
// cannot be reached at startup the chain runs without it.
func buildLayers(cfg config.Config, st store, logger *logging.Logger, checks *[]api.HealthCheck) []cache.CacheLayer {
	var l1 cache.CacheLayer = memory.NewMemoryCache(memory.MemoryCacheConfig{
		LayerConfig: cache.LayerConfig{
			Name:       "memory",
			DefaultTTL: cfg.Cache.MemoryTTL,
		},
		MaxSize:         cfg.Cache.MemorySize,
		CleanupInterval: time.Minute,
	})
	if cfg.Cache.BloomItems > 0 {
		l1 = bloom.NewBloomLayer(l1, cfg.Cache.BloomItems, cfg.Cache.BloomFPRate)
	}

	l3 := cache.NewNegativeCacheLayer(wallet.NewStoreLayer(st), cfg.Cache.NegativeTTL)

	if !cfg.Redis.Enabled() {
		return []cache.CacheLayer{l1, l3}
	}

	redisConfig := redis.DefaultRedisCacheConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.KeyPrefix = cfg.Redis.KeyPrefix
	redisConfig.DefaultTTL = cfg.Cache.RedisTTL

	l2, err := redis.NewRedisCache(redisConfig)
	if err != nil {
		logger.Warn("redis unavailable, continuing without L2", zap.Error(err))
		return []cache.CacheLayer{l1, l3}
	}
	*checks = append(*checks, api.HealthCheck{Name: "redis", Check: l2.Ping})

	return []cache.CacheLayer{l1, l2, l3}
}

// resilientConfigs keeps the chain defaults for the caches but gives the
// store layer a longer timeout and a more tolerant breaker.
func resilientConfigs(n int) []resilience.ResilientConfig {
	configs := make([]resilience.ResilientConfig, n)
	for i := range configs {
		configs[i] = resilience.DefaultResilientConfig().WithTimeout(time.Second)
	}
	configs[0] = configs[0].WithTimeout(100 * time.Millisecond)

	store := resilience.DefaultResilientConfig().WithTimeout(3 * time.Second)
	store.CircuitBreakerConfig.ReadyToTrip = resilience.FailureRatio(50, 0.5)
	configs[n-1] = store
	return configs
}
