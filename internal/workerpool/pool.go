package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
)

// Policy decides what Submit does when every worker is busy and the backlog is full
type Policy int

const (
	// PolicyAbort rejects the task with domain.ErrPoolSaturated
	PolicyAbort Policy = iota

	// PolicyCallerRuns runs the task on the submitting goroutine
	PolicyCallerRuns
)

// ParsePolicy maps "abort" / "caller_runs" to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "abort", "":
		return PolicyAbort, nil
	case "caller_runs", "caller-runs", "callerruns":
		return PolicyCallerRuns, nil
	}
	return PolicyAbort, fmt.Errorf("%w: unknown saturation policy %q", domain.ErrValidationFailed, s)
}

func (p Policy) String() string {
	if p == PolicyCallerRuns {
		return "caller_runs"
	}
	return "abort"
}

// Task is a unit of work run by the pool
type Task func()

// Config holds configuration for the pool
type Config struct {
	Name          string        // Used in log lines
	CoreWorkers   int           // Workers kept alive while idle
	MaxWorkers    int           // Upper bound reached only when the backlog is full
	QueueCapacity int           // Bounded backlog size
	KeepAlive     time.Duration // Idle time before a surplus worker exits
	Policy        Policy
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Name:          "processor",
		CoreWorkers:   10,
		MaxWorkers:    20,
		QueueCapacity: 1000,
		KeepAlive:     60 * time.Second,
		Policy:        PolicyAbort,
	}
}

// Pool is a bounded worker pool that grows from CoreWorkers to MaxWorkers only once the
// backlog is full, then applies its saturation Policy.
type Pool struct {
	config Config
	logger *slog.Logger
	tasks  chan Task

	mu       sync.Mutex // guards workers and the closing of tasks
	workers  int
	shutdown atomic.Bool
	wg       sync.WaitGroup

	// Statistics
	active    atomic.Int32
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// New creates a pool; zero config fields fall back to DefaultConfig values
func New(config Config, logger *slog.Logger) *Pool {
	def := DefaultConfig()
	if config.CoreWorkers <= 0 {
		config.CoreWorkers = def.CoreWorkers
	}
	if config.MaxWorkers < config.CoreWorkers {
		config.MaxWorkers = config.CoreWorkers
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = def.QueueCapacity
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = def.KeepAlive
	}
	if config.Name == "" {
		config.Name = def.Name
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		config: config,
		logger: logger.With("component", "worker_pool", "pool", config.Name),
		tasks:  make(chan Task, config.QueueCapacity),
	}
}

// Submit hands task to the pool, applying the saturation policy when it is full
func (p *Pool) Submit(task Task) error {
	err := p.offer(task)
	if err == domain.ErrPoolSaturated && p.config.Policy == PolicyCallerRuns {
		p.logger.Debug("Pool saturated, running task on caller")
		p.run(task)
		return nil
	}
	return err
}

// TrySubmit hands task to the pool without blocking and never runs it on the caller
func (p *Pool) TrySubmit(task Task) error {
	return p.offer(task)
}

func (p *Pool) offer(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown.Load() {
		p.rejected.Add(1)
		return domain.ErrPoolShutdown
	}

	if p.workers < p.config.CoreWorkers {
		p.startWorkerLocked(task)
		return nil
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	if p.workers < p.config.MaxWorkers {
		p.startWorkerLocked(task)
		return nil
	}

	p.rejected.Add(1)
	return domain.ErrPoolSaturated
}

func (p *Pool) startWorkerLocked(first Task) {
	p.workers++
	p.wg.Add(1)
	go p.worker(first)
}

func (p *Pool) worker(first Task) {
	defer p.wg.Done()

	if first != nil {
		p.run(first)
	}

	idle := time.NewTimer(p.config.KeepAlive)
	defer idle.Stop()

	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				p.retire(true)
				return
			}
			p.run(task)
			idle.Reset(p.config.KeepAlive)
		case <-idle.C:
			if p.retire(false) {
				return
			}
			idle.Reset(p.config.KeepAlive)
		}
	}
}

// retire decrements the worker count; an idle worker only retires above core size
func (p *Pool) retire(force bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !force && p.workers <= p.config.CoreWorkers {
		return false
	}
	p.workers--
	return true
}

// run executes task with panic recovery
func (p *Pool) run(task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Task panicked", "panic", r)
		}
		p.completed.Add(1)
	}()

	task()
}

// Shutdown stops intake, then waits for queued and running tasks until ctx ends
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.tasks)
	p.mu.Unlock()

	p.logger.Info("Shutting down worker pool", "queued", len(p.tasks), "active", p.active.Load())

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped", "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool shutdown timed out", "active", p.active.Load())
		return ctx.Err()
	}
}

// ActiveCount returns the number of tasks currently running
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// QueueSize returns the number of tasks waiting in the backlog
func (p *Pool) QueueSize() int {
	return len(p.tasks)
}

// PoolSize returns the number of live workers
func (p *Pool) PoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// IsShutdown reports whether Shutdown was called
func (p *Pool) IsShutdown() bool {
	return p.shutdown.Load()
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		PoolSize:  p.PoolSize(),
		Active:    p.ActiveCount(),
		Queued:    p.QueueSize(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}

// Stats represents statistics about the pool
type Stats struct {
	PoolSize  int   `json:"pool_size"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Panics    int64 `json:"panics"`
}
