// Package main is the entry point for the skillstream worker. It dequeues
// submitted tasks and runs the five-stage generation pipeline for each one.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/internal/pipeline"
	"github.com/skillstream/skillstream/internal/queue"
	"github.com/skillstream/skillstream/internal/worker"
)

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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "skillstream-worker", version)
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

	client, err := llm.New(cfg.LLM)
	if err != nil {
		logger.Error("llm client initialization failed", zap.Error(err))
		return 1
	}

	redisClient, broker, taskQueue := buildRedisBackends(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := bridge.NewPublisher(broker, logger, metrics, cfg.Stream.PublishBuffer)
	pubCtx, pubCancel := context.WithCancel(context.Background())
	go publisher.Run(pubCtx)

	orch := pipeline.NewOrchestrator(client, store, publisher, logger, metrics, cfg.LLM.Temperature)
	pool := worker.NewPool(taskQueue, store, orch, logger, metrics, cfg.Worker.Concurrency)

	logger.Info("worker started",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}

	select {
	case <-poolDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("worker pool did not drain before the shutdown deadline")
	}

	// Stop the publisher after the pool so final events are flushed.
	pubCancel()
	publisher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
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

// buildRedisBackends creates the broker and queue, falling back to
// in-process implementations when no Redis address is configured.
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
