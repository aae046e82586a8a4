// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/generator"
	"github.com/xkilldash9x/scriptforge/internal/sandbox"
	"github.com/xkilldash9x/scriptforge/internal/scriptstore"
	"github.com/xkilldash9x/scriptforge/internal/tracker"
	"github.com/xkilldash9x/scriptforge/internal/validation"
)

// Components holds every initialized service the commands and the HTTP API
// need. It centralizes their lifecycle.
type Components struct {
	Repos       schemas.Repositories
	ScriptStore *scriptstore.Store
	Synthesizer schemas.Synthesizer
	Generator   *generator.Generator
	Executor    *sandbox.Executor
	Validator   *validation.Validator
	Tracker     *tracker.Tracker
	DBPool      *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown stops live executions first, since they write to the
// repositories, and then closes the database pool.
func (c *Components) Shutdown(ctx context.Context) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Tracker != nil {
		// Detach from ctx so shutdown completes even if it is already done.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := c.Tracker.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during tracker shutdown.", zap.Error(err))
		} else {
			logger.Debug("Tracker shut down.")
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
