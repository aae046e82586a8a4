// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/store"
)

// ConnectDatabase opens a pool and retries the first ping with exponential
// backoff until cfg.ConnectTimeout elapses, so the CLI tolerates a database
// container that is still starting.
func ConnectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = cfg.ConnectTimeout

	attempt := 0
	operation := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			logger.Debug("Database not reachable yet.", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL after %d attempts: %w", attempt, err)
	}

	logger.Info("Connected to PostgreSQL.", zap.Int("attempts", attempt))
	return pool, nil
}

// InitializeRepositories returns the PostgreSQL repositories when a database
// URL is configured and the in-memory ones otherwise. The returned pool is
// nil in memory mode.
func InitializeRepositories(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.Repositories, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		logger.Warn("No database configured; using a temporary in-memory store. Workflows, scripts and executions will be lost on exit.")
		return store.NewMemoryRepositories(), nil, nil
	}

	pool, err := ConnectDatabase(ctx, cfg, logger)
	if err != nil {
		return schemas.Repositories{}, nil, err
	}
	dbStore, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return schemas.Repositories{}, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := dbStore.Migrate(ctx); err != nil {
		pool.Close()
		return schemas.Repositories{}, nil, err
	}
	return dbStore.Repositories(), pool, nil
}
