package runtime

import (
	"context"
	"log/slog"
	goruntime "runtime"
	"sync"
	"time"
)

// TaskFunc is one execution of a periodic task
type TaskFunc func(ctx context.Context)

// Task is a handle to a scheduled periodic task
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Name returns the task name
func (t *Task) Name() string { return t.name }

// Cancel stops future executions and waits for a running one to return
func (t *Task) Cancel() {
	t.cancel()
	<-t.done
}

// Done is closed once the task has stopped
func (t *Task) Done() <-chan struct{} { return t.done }

// Scheduler runs periodic daemon tasks with a bounded number of concurrent executions
type Scheduler struct {
	logger *slog.Logger
	slots  chan struct{}

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// NewScheduler creates a scheduler; concurrency is capped at the CPU count
func NewScheduler(concurrency int, logger *slog.Logger) *Scheduler {
	if n := goruntime.NumCPU(); concurrency <= 0 || concurrency > n {
		concurrency = n
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		slots:  make(chan struct{}, concurrency),
		tasks:  make(map[*Task]struct{}),
	}
}

// Concurrency returns the maximum number of simultaneous executions
func (s *Scheduler) Concurrency() int {
	return cap(s.slots)
}

// ScheduleWithFixedDelay runs fn repeatedly, waiting delay between the end of one
// execution and the start of the next. Returns nil after Shutdown.
func (s *Scheduler) ScheduleWithFixedDelay(name string, delay time.Duration, fn TaskFunc) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("Scheduler is shut down, task not scheduled", "task", name)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	s.tasks[t] = struct{}{}

	go s.loop(ctx, t, delay, fn)

	s.logger.Info("Periodic task scheduled", "task", name, "delay", delay)
	return t
}

func (s *Scheduler) loop(ctx context.Context, t *Task, delay time.Duration, fn TaskFunc) {
	defer close(t.done)
	defer func() {
		s.mu.Lock()
		delete(s.tasks, t)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		select {
		case <-ctx.Done():
			return
		case s.slots <- struct{}{}:
		}
		s.execute(ctx, t.name, fn)
		<-s.slots

		timer.Reset(delay)
	}
}

func (s *Scheduler) execute(ctx context.Context, name string, fn TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Periodic task panicked", "task", name, "panic", r)
		}
	}()
	fn(ctx)
}

// Shutdown cancels every task and waits for running executions
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	s.logger.Info("Scheduler stopped", "tasks", len(tasks))
}
