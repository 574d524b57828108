// Package main is the entry point for the skillstream API server. It serves
// task submission, task queries, and the WebSocket progress stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/bridge"
	"github.com/skillstream/skillstream/internal/config"
	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/internal/queue"
	"github.com/skillstream/skillstream/internal/stream"
	"github.com/skillstream/skillstream/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "skillstream-server", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	store, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("ledger initialization failed", zap.Error(err))
		return 1
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	redisClient, broker, taskQueue := buildRedisBackends(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	manager := stream.NewManager(broker, store, logger, metrics, cfg.Stream)

	readiness := observability.ReadinessChecks{
		Ledger: store,
		Broker: broker,
		Queue:  taskQueue,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Store:     store,
		Queue:     taskQueue,
		Manager:   manager,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close remaining WebSocket subscribers after in-flight requests drain.
	manager.Shutdown()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the progress ledger based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory ledger")
		return ledger.NewMemoryStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("ledger: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ledger: ping: %w", err)
		}

		store := ledger.NewPgStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ledger: schema: %w", err)
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger driver: %q", cfg.Driver)
	}
}

// buildRedisBackends creates the broker and queue. Falls back to in-process
// implementations when no Redis address is configured, which only makes
// sense when the server and worker run in one process or in tests.
func buildRedisBackends(cfg *config.Config, logger *zap.Logger) (*redis.Client, bridge.Broker, queue.Queue) {
	addr := cfg.Redis.Address()
	if addr == "" {
		logger.Warn("no redis address configured, using in-process broker and queue")
		return nil, bridge.NewMemoryBroker(), queue.NewMemoryQueue(0, cfg.Queue.PopTimeout)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	broker := bridge.NewRedisBroker(client)
	q := queue.NewRedisQueue(client, cfg.Queue.Name, cfg.Queue.IdempotencyTTL, cfg.Queue.PopTimeout)
	return client, broker, q
}
