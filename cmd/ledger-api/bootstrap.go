package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BearBump/shipledger/config"
	ledgerapi "github.com/BearBump/shipledger/internal/api/ledger_api"
	"github.com/BearBump/shipledger/internal/auth"
	"github.com/BearBump/shipledger/internal/broker/kafka"
	"github.com/BearBump/shipledger/internal/cache"
	"github.com/BearBump/shipledger/internal/cache/rediscache"
	"github.com/BearBump/shipledger/internal/logger"
	"github.com/BearBump/shipledger/internal/services/ledger"
	"github.com/BearBump/shipledger/internal/storage/pgledger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ledgerAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   ledgerAPIOpts
	api    *ledgerapi.LedgerAPI
	log    *zap.Logger

	closers   []func()
	closeOnce sync.Once
}

func mustBootstrapLedgerAPI() *ledgerAPIApp {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	// Без секрета подписи админские сессии не выдаём вообще.
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	log, err := logger.New(cfg.Log, "ledger-api")
	if err != nil {
		panic(err)
	}

	app := &ledgerAPIApp{log: log}

	set := resolveLedgerAPISettings(cfg)

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second, log)
	app.closers = append(app.closers, st.Close)

	viewCache, limiter, closeRedis := newRedisDeps(cfg.Redis)
	if closeRedis != nil {
		app.closers = append(app.closers, closeRedis)
	} else {
		log.Warn("redis is not configured: lookup cache and rate limit disabled")
	}
	if set.cacheTTL == 0 {
		log.Warn("lookup cache disabled by ledger.lookup_cache_ttl_seconds")
	}
	svc := ledger.New(st, viewCache, set.cacheTTL)

	if cfg.Kafka.Host != "" {
		producer := kafka.NewProducer(cfg.Kafka.Brokers())
		app.closers = append(app.closers, func() { _ = producer.Close() })
		svc.WithPublisher(producer, set.topic)
	} else {
		log.Warn("kafka is not configured: shipment updates are not published")
	}

	svc.WithBaseURL(cfg.Ledger.BaseURL).WithLogger(log)

	gate, err := auth.New(auth.Config{
		AdminUsername: cfg.Admin.Username,
		AdminPassword: cfg.Admin.Password,
		SessionSecret: cfg.Admin.SessionSecret,
	})
	if err != nil {
		panic(err)
	}

	app.api = ledgerapi.New(svc, gate).
		WithLookupRateLimit(limiter, cfg.Ledger.LookupRateLimitPerMinute).
		WithSecureCookie(cfg.Admin.CookieSecure).
		WithLogger(log)

	app.opts = ledgerAPIOpts{
		httpAddr:    set.httpAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}
	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	log.Info("ledger-api bootstrapped",
		zap.String("http_addr", set.httpAddr),
		zap.String("base_url", cfg.Ledger.BaseURL),
		zap.Duration("lookup_cache_ttl", set.cacheTTL))
	return app
}

type ledgerAPISettings struct {
	httpAddr string
	topic    string
	cacheTTL time.Duration
}

func resolveLedgerAPISettings(cfg *config.Config) ledgerAPISettings {
	set := ledgerAPISettings{
		httpAddr: cfg.Ledger.HTTPAddr,
		topic:    cfg.Kafka.ShipmentUpdatedTopicName,
		cacheTTL: cfg.Ledger.LookupCacheTTL(),
	}
	if set.httpAddr == "" {
		set.httpAddr = ":8080"
	}
	if set.topic == "" {
		set.topic = "shipment.updated"
	}
	return set
}

// newRedisDeps builds the view cache and the lookup limiter on one client.
// Without a redis host all three results are nil.
func newRedisDeps(cfg config.RedisConfig) (cache.BytesCache, ledgerapi.RateLimiter, func()) {
	if cfg.Host == "" {
		return nil, nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr()})
	return rediscache.NewWithClient(client),
		rediscache.NewRateLimiterWithClient(client),
		func() { _ = client.Close() }
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration, log *zap.Logger) *pgledger.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgledger.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		log.Info("waiting for postgres", zap.Error(err))
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

// Close is safe to call more than once; closers run on the first call only.
func (a *ledgerAPIApp) Close() {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		if a.log != nil {
			_ = a.log.Sync()
		}
	})
}

func (a *ledgerAPIApp) Run() error {
	return runLedgerAPI(a.ctx, a.opts, a.api, a.log)
}
