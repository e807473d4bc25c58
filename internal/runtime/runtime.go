// Package runtime owns the shared execution resources of the service: the message
// processing pool and the periodic task scheduler. Both are injected into every topic
// engine, and Shutdown tears them down in a fixed order.
package runtime

import (
	"context"
	"log/slog"

	"github.com/arnabghosh/delayed-queue/internal/workerpool"
)

// Runtime bundles the processing pool and the scheduler
type Runtime struct {
	pool      *workerpool.Pool
	scheduler *Scheduler
	logger    *slog.Logger
}

// New creates a runtime from pool config and scheduler concurrency
func New(poolConfig workerpool.Config, schedulerConcurrency int, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		pool:      workerpool.New(poolConfig, logger),
		scheduler: NewScheduler(schedulerConcurrency, logger),
		logger:    logger.With("component", "runtime"),
	}
}

// Pool returns the processing pool
func (r *Runtime) Pool() *workerpool.Pool { return r.pool }

// Scheduler returns the periodic task scheduler
func (r *Runtime) Scheduler() *Scheduler { return r.scheduler }

// Shutdown cancels periodic tasks first so nothing new is dispatched, then drains the pool
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.logger.Info("Shutting down runtime")
	r.scheduler.Shutdown()
	return r.pool.Shutdown(ctx)
}
