package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rootedhq/rooted/backend/internal/app"
	"github.com/rootedhq/rooted/backend/internal/config"
	"github.com/rootedhq/rooted/backend/internal/database"
	"github.com/rootedhq/rooted/backend/internal/httpserver"
	"github.com/rootedhq/rooted/backend/internal/redisclient"
	ledgersvc "github.com/rootedhq/rooted/backend/internal/services/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := database.RunMigrations(ctx, cfg.Database); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer dbPool.Close()

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	container, err := app.NewContainer(ctx, cfg, dbPool, redisClient, logger)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	if container.Observability != nil {
		defer container.Observability.Shutdown(ctx)
	}

	go func() {
		if err := container.Stats.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("stats broker stopped", "error", err)
		}
	}()

	startLedgerSweeper(ctx, container.Ledger, cfg.Ledger, logger)

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}

// startLedgerSweeper periodically recomputes aggregates that fell behind the
// durable event log after a partial write failure.
func startLedgerSweeper(ctx context.Context, svc *ledgersvc.Service, cfg config.LedgerConfig, logger *slog.Logger) {
	if svc == nil {
		return
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		run := func() {
			if err := svc.SweepLaggingAggregates(ctx, int32(batchSize)); err != nil {
				logger.Error("ledger sweep failed", "error", err)
			}
		}
		run()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
