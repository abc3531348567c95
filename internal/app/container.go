// Package app wires configuration, storage, and services into the
// dependency container handlers pull from.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rootedhq/rooted/backend/internal/cache"
	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/completion"
	"github.com/rootedhq/rooted/backend/internal/config"
	"github.com/rootedhq/rooted/backend/internal/db"
	"github.com/rootedhq/rooted/backend/internal/impact"
	"github.com/rootedhq/rooted/backend/internal/limits"
	"github.com/rootedhq/rooted/backend/internal/milestone"
	"github.com/rootedhq/rooted/backend/internal/observability"
	ledgersvc "github.com/rootedhq/rooted/backend/internal/services/ledger"
	usagesvc "github.com/rootedhq/rooted/backend/internal/services/usage"
	"github.com/rootedhq/rooted/backend/internal/stats"
	"github.com/rootedhq/rooted/backend/internal/tokenizer"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config            *config.Config
	DBPool            *pgxpool.Pool
	Redis             *redis.Client
	Queries           *db.Queries
	Catalog           *catalog.Catalog
	Tokenizer         *tokenizer.Counter
	Impact            *impact.Calculator
	Milestones        *milestone.Table
	Completion        *completion.Client
	Ledger            *ledgersvc.Service
	Usage             *usagesvc.Service
	Stats             *stats.Broker
	RateLimiter       *limits.RateLimiter
	Idempotency       *cache.IdempotencyCache
	Observability     *observability.Provider
	Logger            *slog.Logger
	ReportingLocation *time.Location
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	locName := strings.TrimSpace(cfg.Reporting.Timezone)
	if locName == "" {
		locName = "UTC"
	}
	reportingLoc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone: %w", err)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	queries := db.New(pool)
	modelCatalog := catalog.New(cfg.ModelCatalog)
	calculator := impact.NewCalculator(cfg.Impact)
	milestones := milestone.NewTable(cfg.Milestones)
	broker := stats.NewBroker(redisClient, "", logger)

	var completionClient *completion.Client
	if strings.TrimSpace(cfg.Completion.OpenAIKey) != "" {
		completionClient, err = completion.New(completion.Options{
			APIKey:  cfg.Completion.OpenAIKey,
			BaseURL: cfg.Completion.BaseURL,
			Timeout: cfg.Completion.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init completion client: %w", err)
		}
	}

	return &Container{
		Config:            cfg,
		DBPool:            pool,
		Redis:             redisClient,
		Queries:           queries,
		Catalog:           modelCatalog,
		Tokenizer:         tokenizer.NewCounter(),
		Impact:            calculator,
		Milestones:        milestones,
		Completion:        completionClient,
		Ledger:            ledgersvc.NewService(queries, calculator, milestones, broker, logger),
		Usage:             usagesvc.NewService(queries, reportingLoc),
		Stats:             broker,
		RateLimiter:       limits.NewRateLimiter(redisClient),
		Idempotency:       cache.NewIdempotencyCache(redisClient, cfg.Completion.IdempotencyTTL),
		Observability:     obsProvider,
		Logger:            logger,
		ReportingLocation: reportingLoc,
	}, nil
}
