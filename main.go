// Command taskd serves a compute task collection and executes its tasks.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-computetask/api"
	"go-computetask/config"
	"go-computetask/events"
	"go-computetask/queue"
	"go-computetask/store"
	"go-computetask/worker"
)

// workQueue is satisfied by both queue implementations.
type workQueue interface {
	api.Queue
	worker.Queue
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store = store.NewMemory()
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
		st = pg
	} else {
		logger.Warn("DATABASE_URL not set, tasks are kept in memory")
	}

	var q workQueue = queue.NewMemory()
	if cfg.RedisAddr != "" {
		rq, err := queue.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("Failed to initialize Redis", "error", err)
			os.Exit(1)
		}
		defer rq.Close()
		q = rq
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		np, err := events.Connect(cfg.NATSURL)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer np.Close()
		pub = np
	}

	var wg sync.WaitGroup
	worker.New(st, q, pub, worker.WithLogger(logger.With("component", "worker"))).
		Start(ctx, cfg.WorkerCount, &wg)

	server := api.NewServer(cfg.Addr, api.New(st, q,
		api.WithPublisher(pub),
		api.WithLogger(logger.With("component", "api")),
	))

	go func() {
		logger.Info("Starting server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	wg.Wait()
	logger.Info("All workers stopped")
}
