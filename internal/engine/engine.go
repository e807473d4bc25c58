// Package engine implements the per-topic delayed delivery pipeline: enqueue, the
// dispatcher tick, leased processing through the lifecycle state machine, and
// recovery of queue state from the durable store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/idgen"
	"github.com/arnabghosh/delayed-queue/internal/lease"
	"github.com/arnabghosh/delayed-queue/internal/mq"
	"github.com/arnabghosh/delayed-queue/internal/runtime"
	"github.com/arnabghosh/delayed-queue/internal/storage"
)

// Options tunes the engine internals shared by every topic
type Options struct {
	// EnqueueRetries is the number of scheduling attempts before compensation
	EnqueueRetries int

	// EnqueueBackoff is the fixed pause between scheduling attempts
	EnqueueBackoff time.Duration

	// DispatchBatch bounds the ready messages handed to the pool per tick
	DispatchBatch int
}

// DefaultOptions returns default options
func DefaultOptions() Options {
	return Options{
		EnqueueRetries: 3,
		EnqueueBackoff: 100 * time.Millisecond,
		DispatchBatch:  100,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.EnqueueRetries <= 0 {
		o.EnqueueRetries = def.EnqueueRetries
	}
	if o.EnqueueBackoff < 0 {
		o.EnqueueBackoff = 0
	}
	if o.DispatchBatch <= 0 {
		o.DispatchBatch = def.DispatchBatch
	}
	return o
}

// Dependencies are the collaborators injected into a TopicEngine
type Dependencies struct {
	Store   storage.MessageRepository
	Queue   mq.DelayQueue
	Locker  lease.Locker
	IDs     idgen.Generator
	Runtime *runtime.Runtime
	Logger  *slog.Logger
	Options Options

	// Now is the engine clock; defaults to time.Now
	Now func() time.Time
}

// TopicEngine is the delayed delivery pipeline of one topic
type TopicEngine struct {
	config  domain.TopicConfig
	handler Handler
	store   storage.MessageRepository
	queue   mq.DelayQueue
	locker  lease.Locker
	ids     idgen.Generator
	rt      *runtime.Runtime
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	mu        sync.Mutex
	task      *runtime.Task
	listening atomic.Bool

	// IDs handed to the pool and not yet finished
	inflight sync.Map

	// Statistics
	enqueued      atomic.Int64
	delivered     atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64
	leaseTimeouts atomic.Int64
	leasesLost    atomic.Int64
}

// New creates the engine for one topic
func New(config domain.TopicConfig, handler Handler, deps Dependencies) (*TopicEngine, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: topic %q has no handler", domain.ErrValidationFailed, config.Name)
	}
	if deps.Store == nil || deps.Queue == nil || deps.Locker == nil || deps.Runtime == nil {
		return nil, fmt.Errorf("%w: topic %q is missing a store, queue, locker or runtime", domain.ErrValidationFailed, config.Name)
	}
	if deps.IDs == nil {
		deps.IDs = idgen.UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &TopicEngine{
		config:  config,
		handler: handler,
		store:   deps.Store,
		queue:   deps.Queue,
		locker:  deps.Locker,
		ids:     deps.IDs,
		rt:      deps.Runtime,
		logger:  deps.Logger.With("component", "topic_engine", "topic", config.Name, "queue", config.QueueName),
		opts:    deps.Options.withDefaults(),
		now:     deps.Now,
	}, nil
}

// Topic returns the topic name
func (e *TopicEngine) Topic() string { return e.config.Name }

// Config returns the effective topic configuration
func (e *TopicEngine) Config() domain.TopicConfig { return e.config }

// Start recovers queue state from the store, optionally replays the backlog and then
// registers the dispatcher tick
func (e *TopicEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task != nil {
		return nil
	}

	report, err := e.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover topic %s: %w", e.config.Name, err)
	}
	e.logger.Info("Recovered unprocessed messages",
		"rearmed", report.Rearmed,
		"ready", report.Ready,
		"skipped", report.Skipped,
	)

	if e.config.ProcessBacklogOnStartup {
		backlog, err := e.ReplayBacklog(ctx)
		if err != nil {
			return fmt.Errorf("failed to replay backlog of topic %s: %w", e.config.Name, err)
		}
		e.logger.Info("Replayed backlog", "ready", backlog.Ready, "skipped", backlog.Skipped)
	}

	e.listening.Store(true)
	task := e.rt.Scheduler().ScheduleWithFixedDelay("dispatch:"+e.config.Name, e.config.CheckInterval, e.dispatch)
	if task == nil {
		e.listening.Store(false)
		return errors.New("scheduler is shut down")
	}
	e.task = task

	e.logger.Info("Topic listener registered", "check_interval", e.config.CheckInterval)
	return nil
}

// Stop cancels the dispatcher tick. In-flight handlers finish on the pool.
func (e *TopicEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listening.Store(false)
	if e.task != nil {
		e.task.Cancel()
		e.task = nil
	}
	e.logger.Info("Topic listener stopped")
}

// Healthy reports whether the dispatcher is listening and the pool accepts work
func (e *TopicEngine) Healthy() bool {
	return e.listening.Load() && !e.rt.Pool().IsShutdown()
}

// TopicStats is the observability snapshot of one topic
type TopicStats struct {
	Topic                string `json:"topic"`
	QueueName            string `json:"queue_name"`
	Listening            bool   `json:"listening"`
	Healthy              bool   `json:"healthy"`
	PendingCount         int64  `json:"pending_count"`
	InProgressCount      int64  `json:"in_progress_count"`
	DelayedQueueSize     int64  `json:"delayed_queue_size"`
	ReadyQueueSize       int64  `json:"ready_queue_size"`
	ActiveWorkerCount    int    `json:"active_worker_count"`
	ProcessorBacklogSize int    `json:"processor_backlog_size"`
	Enqueued             int64  `json:"enqueued"`
	Delivered            int64  `json:"delivered"`
	Failed               int64  `json:"failed"`
	Dropped              int64  `json:"dropped"`
	LeaseTimeouts        int64  `json:"lease_timeouts"`
	LeasesLost           int64  `json:"leases_lost"`
}

// Stats returns the topic snapshot; worker counts are for the shared pool
func (e *TopicEngine) Stats(ctx context.Context) (TopicStats, error) {
	stats := TopicStats{
		Topic:                e.config.Name,
		QueueName:            e.config.QueueName,
		Listening:            e.listening.Load(),
		Healthy:              e.Healthy(),
		ActiveWorkerCount:    e.rt.Pool().ActiveCount(),
		ProcessorBacklogSize: e.rt.Pool().QueueSize(),
		Enqueued:             e.enqueued.Load(),
		Delivered:            e.delivered.Load(),
		Failed:               e.failed.Load(),
		Dropped:              e.dropped.Load(),
		LeaseTimeouts:        e.leaseTimeouts.Load(),
		LeasesLost:           e.leasesLost.Load(),
	}

	size, err := e.queue.Size(ctx)
	if err != nil {
		return stats, err
	}
	stats.DelayedQueueSize = size.Delayed
	stats.ReadyQueueSize = size.Ready

	if stats.PendingCount, err = e.store.CountByStatus(ctx, e.config.Name, domain.StatusPending); err != nil {
		return stats, err
	}
	if stats.InProgressCount, err = e.store.CountByStatus(ctx, e.config.Name, domain.StatusInProgress); err != nil {
		return stats, err
	}
	return stats, nil
}

// sleep waits d or until ctx ends
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
