package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"docgen.io/pipeline/internal/pkg/logger"
)

// Start starts the River client and the Job Scheduler's poll loop. Both run
// until Shutdown cancels the context Start was given.
func (a *Application) Start(ctx context.Context) error {
	if a.RiverClient != nil {
		if err := a.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("river client started")
	}

	if a.Scheduler != nil {
		schedCtx, cancel := context.WithCancel(ctx)
		a.schedCancel = cancel
		go func() {
			if err := a.Scheduler.Run(schedCtx); err != nil && schedCtx.Err() == nil {
				logger.Error("scheduler stopped unexpectedly", zap.Error(err))
			}
		}()
		logger.Info("job scheduler started")
	}

	return nil
}

// Shutdown gracefully stops the scheduler, River, worker pools, tracer
// provider, and database connections, in reverse startup order.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.schedCancel != nil {
		a.schedCancel()
	}

	if a.RiverClient != nil {
		if err := a.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("river client stopped")
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}

	if a.Tracer != nil {
		if err := a.Tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer provider shutdown returned error", zap.Error(err))
		}
	}

	if a.EntClient != nil {
		a.EntClient.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
