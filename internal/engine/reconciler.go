package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/robfig/cron/v3"
)

// Reconciler periodically re-arms PENDING messages that fell out of the queues
type Reconciler struct {
	registry *Registry
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a reconciler on a cron schedule such as "@every 30s".
// An empty schedule yields a reconciler that never runs on its own.
func NewReconciler(registry *Registry, schedule string, timeout time.Duration, logger *slog.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	r := &Reconciler{
		registry: registry,
		cron:     cron.New(),
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.With("component", "reconciler"),
	}

	if schedule != "" {
		if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
			return nil, fmt.Errorf("%w: invalid reconcile schedule %q: %v", domain.ErrValidationFailed, schedule, err)
		}
	}
	return r, nil
}

// Start begins the scheduled reconciliation
func (r *Reconciler) Start() {
	if r.schedule == "" {
		r.logger.Info("Reconciliation disabled")
		return
	}
	r.cron.Start()
	r.logger.Info("Reconciler started", "schedule", r.schedule)
}

// Stop stops the schedule and waits for a running pass
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Reconciler stopped")
}

// RunOnce reconciles every topic now and returns the per-topic reports
func (r *Reconciler) RunOnce(ctx context.Context) map[string]RecoveryReport {
	reports := make(map[string]RecoveryReport)
	for _, e := range r.registry.Engines() {
		report, err := e.Reconcile(ctx)
		if err != nil {
			r.logger.Error("Reconciliation failed", "topic", e.Topic(), "error", err)
			continue
		}
		reports[e.Topic()] = report
		if report.Rearmed+report.Ready > 0 {
			r.logger.Info("Reconciled topic",
				"topic", e.Topic(),
				"rearmed", report.Rearmed,
				"ready", report.Ready,
			)
		}
	}
	return reports
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.RunOnce(ctx)
}
