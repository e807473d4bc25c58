package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/lease"
	"github.com/arnabghosh/delayed-queue/internal/mq"
	"github.com/arnabghosh/delayed-queue/internal/runtime"
	"github.com/arnabghosh/delayed-queue/internal/storage"
	"github.com/arnabghosh/delayed-queue/internal/storage/inmemory"
	"github.com/arnabghosh/delayed-queue/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store  storage.MessageRepository
	queue  mq.DelayQueue
	locker lease.Locker
	rt     *runtime.Runtime
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rt := runtime.New(workerpool.Config{
		Name:          "test",
		CoreWorkers:   4,
		MaxWorkers:    8,
		QueueCapacity: 100,
	}, 2, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})

	return &testEnv{
		store:  inmemory.NewMessageRepository(),
		queue:  mq.NewInMemoryDelayQueue(),
		locker: lease.NewMemoryLocker(0),
		rt:     rt,
	}
}

func (env *testEnv) engine(t *testing.T, cfg domain.TopicConfig, h Handler) *TopicEngine {
	t.Helper()

	e, err := New(cfg, h, Dependencies{
		Store:   env.store,
		Queue:   env.queue,
		Locker:  env.locker,
		Runtime: env.rt,
		Options: Options{EnqueueBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

func testTopic(name string) domain.TopicConfig {
	return domain.TopicConfig{
		Name:            name,
		AllowDuplicates: true,
		CheckInterval:   10 * time.Millisecond,
		PollTimeout:     5 * time.Millisecond,
		LockWaitTimeout: time.Second,
	}
}

// recordingHandler records every invocation and fails the first failFirst calls
type recordingHandler struct {
	mu        sync.Mutex
	calls     []string
	at        []time.Time
	failFirst int
	delay     time.Duration
}

func (h *recordingHandler) Handle(ctx context.Context, msg *domain.Message) error {
	h.mu.Lock()
	h.calls = append(h.calls, msg.MessageID)
	h.at = append(h.at, time.Now())
	n := len(h.calls)
	h.mu.Unlock()

	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if n <= h.failFirst {
		return errors.New("downstream unavailable")
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *recordingHandler) firstCallAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.at[0]
}

// transitionSpy records every successful status change
type transitionSpy struct {
	storage.MessageRepository

	mu      sync.Mutex
	history map[string][]domain.Status
}

func newTransitionSpy(store storage.MessageRepository) *transitionSpy {
	return &transitionSpy{MessageRepository: store, history: make(map[string][]domain.Status)}
}

func (s *transitionSpy) UpdateStatus(ctx context.Context, messageID string, to domain.Status, from ...domain.Status) (bool, error) {
	ok, err := s.MessageRepository.UpdateStatus(ctx, messageID, to, from...)
	if ok && err == nil {
		s.mu.Lock()
		s.history[messageID] = append(s.history[messageID], to)
		s.mu.Unlock()
	}
	return ok, err
}

func (s *transitionSpy) transitions(messageID string) []domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Status(nil), s.history[messageID]...)
}

// failingQueue fails the first `failures` Schedule calls. With lostReply set the
// write reaches the backend and only the reply fails.
type failingQueue struct {
	mq.DelayQueue
	failures  atomic.Int32
	calls     atomic.Int32
	lostReply bool
}

func (q *failingQueue) Schedule(ctx context.Context, messageID string, dueAt time.Time) error {
	q.calls.Add(1)
	if q.failures.Add(-1) >= 0 {
		if q.lostReply {
			if err := q.DelayQueue.Schedule(ctx, messageID, dueAt); err != nil {
				return err
			}
			return errors.New("i/o timeout")
		}
		return errors.New("connection refused")
	}
	return q.DelayQueue.Schedule(ctx, messageID, dueAt)
}

func statusOf(t *testing.T, store storage.MessageRepository, messageID string) domain.Status {
	t.Helper()

	msg, err := store.FindByMessageID(context.Background(), messageID)
	require.NoError(t, err)
	return msg.Status
}

func eventuallyStatus(t *testing.T, store storage.MessageRepository, messageID string, want domain.Status) {
	t.Helper()

	assert.Eventually(t, func() bool {
		msg, err := store.FindByMessageID(context.Background(), messageID)
		return err == nil && msg.Status == want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := New(testTopic("order"), nil, Dependencies{Store: env.store, Queue: env.queue, Locker: env.locker, Runtime: env.rt})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, err = New(testTopic("order"), &recordingHandler{}, Dependencies{Queue: env.queue, Locker: env.locker, Runtime: env.rt})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, err = New(domain.TopicConfig{}, &recordingHandler{}, Dependencies{Store: env.store, Queue: env.queue, Locker: env.locker, Runtime: env.rt})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	e, err := New(domain.TopicConfig{Name: "order"}, &recordingHandler{}, Dependencies{Store: env.store, Queue: env.queue, Locker: env.locker, Runtime: env.rt})
	require.NoError(t, err)
	assert.Equal(t, "order", e.Topic())
	assert.Equal(t, "order_delayed_queue", e.Config().QueueName)
	assert.Equal(t, domain.DefaultCheckInterval, e.Config().CheckInterval)
}

func TestEnqueue_DeliversOnceAtDueTime(t *testing.T) {
	env := newTestEnv(t)
	h := &recordingHandler{}
	e := env.engine(t, testTopic("order"), h)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	dueAt := time.Now().Add(150 * time.Millisecond)
	id, err := e.Enqueue(ctx, EnqueueRequest{Content: `{"order_id":1}`, Topic: "order", DueAt: dueAt})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, domain.StatusPending, statusOf(t, env.store, id))

	eventuallyStatus(t, env.store, id, domain.StatusDone)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, h.count())
	assert.False(t, h.firstCallAt().Before(dueAt), "handler must not run before due time")

	msg, err := env.store.FindByMessageID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, msg.ProcessedAt)
	assert.Equal(t, `{"order_id":1}`, msg.Content)
}

func TestEnqueue_TransitionsFollowStateMachine(t *testing.T) {
	env := newTestEnv(t)
	spy := newTransitionSpy(env.store)
	env.store = spy
	h := &recordingHandler{failFirst: 1}
	e := env.engine(t, testTopic("order"), h)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(30 * time.Millisecond)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		report, err := e.Reconcile(ctx)
		return err == nil && report.Ready == 1
	}, 3*time.Second, 10*time.Millisecond)
	eventuallyStatus(t, env.store, id, domain.StatusDone)

	history := spy.transitions(id)
	assert.Equal(t, []domain.Status{
		domain.StatusInProgress, domain.StatusPending, domain.StatusInProgress, domain.StatusDone,
	}, history)

	prev := domain.StatusPending
	for _, next := range history {
		assert.True(t, prev.CanTransitionTo(next), "%s -> %s", prev, next)
		prev = next
	}
}

func TestEnqueue_RejectsDuplicateDedupKey(t *testing.T) {
	env := newTestEnv(t)
	cfg := testTopic("email")
	cfg.AllowDuplicates = false
	e := env.engine(t, cfg, &recordingHandler{})
	ctx := context.Background()
	dueAt := time.Now().Add(time.Hour)

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "email", DueAt: dueAt, DedupKey: "welcome-42"})
	require.NoError(t, err)

	dup, err := e.Enqueue(ctx, EnqueueRequest{Topic: "email", DueAt: dueAt, DedupKey: "welcome-42"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Empty(t, dup)

	existing, err := env.store.FindByDedupKey(ctx, "welcome-42", "email")
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.Equal(t, id, existing[0].MessageID)

	_, err = e.Enqueue(ctx, EnqueueRequest{Topic: "email", DueAt: dueAt, DedupKey: "welcome-43"})
	assert.NoError(t, err)

	// no key, no check
	_, err = e.Enqueue(ctx, EnqueueRequest{Topic: "email", DueAt: dueAt})
	assert.NoError(t, err)
	_, err = e.Enqueue(ctx, EnqueueRequest{Topic: "email", DueAt: dueAt})
	assert.NoError(t, err)
}

func TestEnqueue_AllowDuplicatesSkipsDedup(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, testTopic("order"), &recordingHandler{})
	ctx := context.Background()
	dueAt := time.Now().Add(time.Hour)

	for i := 0; i < 2; i++ {
		_, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: dueAt, DedupKey: "same"})
		require.NoError(t, err)
	}

	existing, err := env.store.FindByDedupKey(ctx, "same", "order")
	require.NoError(t, err)
	assert.Len(t, existing, 2)
}

func TestEnqueue_ConcurrentDedupKeyAcceptsOne(t *testing.T) {
	env := newTestEnv(t)
	cfg := testTopic("email")
	cfg.AllowDuplicates = false
	cfg.LockWaitTimeout = 3 * time.Second
	e := env.engine(t, cfg, &recordingHandler{})
	ctx := context.Background()
	dueAt := time.Now().Add(time.Hour)

	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Enqueue(ctx, EnqueueRequest{Topic: "email", DueAt: dueAt, DedupKey: "race"})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrDuplicate):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(9), duplicates.Load())
}

func TestEnqueue_RejectsExpiredDueTime(t *testing.T) {
	env := newTestEnv(t)
	h := &recordingHandler{}
	e := env.engine(t, testTopic("order"), h)
	ctx := context.Background()

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(-time.Minute)})
	assert.ErrorIs(t, err, domain.ErrAlreadyExpired)
	assert.Empty(t, id)

	pending, err := env.store.FindPending(ctx, "order")
	require.NoError(t, err)
	assert.Empty(t, pending)

	size, err := env.queue.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size.Total())
	assert.Zero(t, h.count())
}

func TestEnqueue_JustPastDueTimeIsRejected(t *testing.T) {
	env := newTestEnv(t)
	h := &recordingHandler{}
	e := env.engine(t, testTopic("order"), h)
	ctx := context.Background()

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(-300 * time.Millisecond)})
	assert.ErrorIs(t, err, domain.ErrAlreadyExpired)
	assert.Empty(t, id)
	assert.Zero(t, h.count())

	pending, err := env.store.FindPending(ctx, "order")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnqueue_DueNowProcessesImmediately(t *testing.T) {
	env := newTestEnv(t)
	h := &recordingHandler{}
	now := time.Now()
	e, err := New(testTopic("order"), h, Dependencies{
		Store:   env.store,
		Queue:   env.queue,
		Locker:  env.locker,
		Runtime: env.rt,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: now})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, statusOf(t, env.store, id))
	assert.Equal(t, 1, h.count())

	size, err := env.queue.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size.Total())
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, testTopic("order"), &recordingHandler{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"missing topic", EnqueueRequest{DueAt: time.Now().Add(time.Hour)}},
		{"missing due time", EnqueueRequest{Topic: "order"}},
		{"other topic", EnqueueRequest{Topic: "email", DueAt: time.Now().Add(time.Hour)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Enqueue(ctx, tt.req)
			assert.ErrorIs(t, err, domain.ErrValidationFailed)
		})
	}

	pending, err := env.store.FindPending(ctx, "order")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnqueue_SchedulingFailureDeletesRecord(t *testing.T) {
	env := newTestEnv(t)
	queue := &failingQueue{DelayQueue: env.queue}
	queue.failures.Store(3)
	env.queue = queue
	e := env.engine(t, testTopic("order"), &recordingHandler{})
	ctx := context.Background()

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrSchedulingFailed)
	assert.Empty(t, id)
	assert.Equal(t, int32(3), queue.calls.Load())

	pending, err := env.store.FindPending(ctx, "order")
	require.NoError(t, err)
	assert.Empty(t, pending, "compensating delete must remove the record")
}

func TestEnqueue_SchedulingFailureRemovesQueuedEntry(t *testing.T) {
	env := newTestEnv(t)
	backend := env.queue
	queue := &failingQueue{DelayQueue: backend, lostReply: true}
	queue.failures.Store(3)
	env.queue = queue
	h := &recordingHandler{}
	e := env.engine(t, testTopic("order"), h)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	_, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(50 * time.Millisecond)})
	assert.ErrorIs(t, err, domain.ErrSchedulingFailed)

	size, err := backend.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size.Total(), "no queue entry may outlive a failed enqueue")

	pending, err := env.store.FindPending(ctx, "order")
	require.NoError(t, err)
	assert.Empty(t, pending)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, h.count())
}

// closedQueue behaves like a Redis queue whose client was closed
type closedQueue struct {
	mq.DelayQueue
	calls atomic.Int32
}

func (q *closedQueue) Schedule(ctx context.Context, messageID string, dueAt time.Time) error {
	q.calls.Add(1)
	return fmt.Errorf("%w: failed to schedule message", domain.ErrQueueClosed)
}

func TestEnqueue_ClosedQueueFailsWithoutRetry(t *testing.T) {
	env := newTestEnv(t)
	queue := &closedQueue{DelayQueue: env.queue}
	env.queue = queue
	e := env.engine(t, testTopic("order"), &recordingHandler{})
	ctx := context.Background()

	_, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrSchedulingFailed)
	assert.Equal(t, int32(1), queue.calls.Load())

	pending, err := env.store.FindPending(ctx, "order")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnqueue_SchedulingRecoversWithinRetries(t *testing.T) {
	env := newTestEnv(t)
	queue := &failingQueue{DelayQueue: env.queue}
	queue.failures.Store(2)
	env.queue = queue
	e := env.engine(t, testTopic("order"), &recordingHandler{})
	ctx := context.Background()

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int32(3), queue.calls.Load())

	queued, err := env.queue.Contains(ctx, id)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, domain.StatusPending, statusOf(t, env.store, id))
}

func TestProcess_ConcurrentCallsInvokeHandlerOnce(t *testing.T) {
	env := newTestEnv(t)
	h := &recordingHandler{delay: 50 * time.Millisecond}
	e := env.engine(t, testTopic("order"), h)
	ctx := context.Background()

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	outcomes := make(chan Outcome, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- e.Process(ctx, id)
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := make(map[Outcome]int)
	for o := range outcomes {
		counts[o]++
	}

	assert.Equal(t, 1, h.count())
	assert.Equal(t, 1, counts[OutcomeDelivered])
	assert.Equal(t, 7, counts[OutcomeDuplicate])
	assert.Equal(t, domain.StatusDone, statusOf(t, env.store, id))
}

func TestProcess_Outcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("missing record", func(t *testing.T) {
		env := newTestEnv(t)
		e := env.engine(t, testTopic("order"), &recordingHandler{})

		assert.Equal(t, OutcomeMissing, e.Process(ctx, "no-such-id"))
	})

	t.Run("lease held elsewhere", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := testTopic("order")
		cfg.LockWaitTimeout = 20 * time.Millisecond
		h := &recordingHandler{}
		e := env.engine(t, cfg, h)

		id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)

		other, err := env.locker.Acquire(ctx, lease.ProcessorLockName(e.Config().QueueName, id), time.Second)
		require.NoError(t, err)
		defer other.Release(ctx)

		assert.Equal(t, OutcomeLeaseTimeout, e.Process(ctx, id))
		assert.Zero(t, h.count())
		assert.Equal(t, domain.StatusPending, statusOf(t, env.store, id))

		stats, err := e.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.LeaseTimeouts)
	})

	t.Run("handler panic rolls back", func(t *testing.T) {
		env := newTestEnv(t)
		e := env.engine(t, testTopic("order"), HandlerFunc(func(ctx context.Context, msg *domain.Message) error {
			panic("boom")
		}))

		id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)

		assert.Equal(t, OutcomeHandlerFailed, e.Process(ctx, id))
		assert.Equal(t, domain.StatusPending, statusOf(t, env.store, id))

		held, err := env.locker.IsHeld(ctx, lease.ProcessorLockName(e.Config().QueueName, id))
		require.NoError(t, err)
		assert.False(t, held, "lease is released after a failure")
	})

	t.Run("already done", func(t *testing.T) {
		env := newTestEnv(t)
		h := &recordingHandler{}
		e := env.engine(t, testTopic("order"), h)

		id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)

		assert.Equal(t, OutcomeDelivered, e.Process(ctx, id))
		assert.Equal(t, OutcomeDuplicate, e.Process(ctx, id))
		assert.Equal(t, 1, h.count())
	})

	t.Run("lease lost during handler is counted", func(t *testing.T) {
		env := newTestEnv(t)
		locker := lease.NewMemoryLocker(30 * time.Millisecond)
		env.locker = locker
		queueName := "order_delayed_queue"
		e := env.engine(t, testTopic("order"), HandlerFunc(func(ctx context.Context, msg *domain.Message) error {
			// the hold vanishes mid-delivery; the watchdog notices on its next renewal
			locker.Expire(lease.ProcessorLockName(queueName, msg.MessageID))
			time.Sleep(60 * time.Millisecond)
			return nil
		}))

		id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)

		assert.Equal(t, OutcomeDelivered, e.Process(ctx, id))
		assert.Equal(t, domain.StatusDone, statusOf(t, env.store, id))

		stats, err := e.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.LeasesLost)
		assert.Equal(t, int64(1), stats.Delivered)
	})

	t.Run("handler mutation does not leak", func(t *testing.T) {
		env := newTestEnv(t)
		e := env.engine(t, testTopic("order"), HandlerFunc(func(ctx context.Context, msg *domain.Message) error {
			msg.Content = "changed"
			return nil
		}))

		id, err := e.Enqueue(ctx, EnqueueRequest{Content: "original", Topic: "order", DueAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		require.Equal(t, OutcomeDelivered, e.Process(ctx, id))

		msg, err := env.store.FindByMessageID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "original", msg.Content)
	})
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "delivered", OutcomeDelivered.String())
	assert.Equal(t, "lease_timeout", OutcomeLeaseTimeout.String())
	assert.Equal(t, "aborted", OutcomeAborted.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}

func TestRedeliver(t *testing.T) {
	env := newTestEnv(t)
	h := &recordingHandler{}
	e := env.engine(t, testTopic("order"), h)
	ctx := context.Background()

	id, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	outcome, err := e.Redeliver(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)

	outcome, err = e.Redeliver(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, h.count())
}

func TestEngine_StartStopAndHealth(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, testTopic("order"), &recordingHandler{})
	ctx := context.Background()

	assert.False(t, e.Healthy())

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx), "start is idempotent")
	assert.True(t, e.Healthy())

	e.Stop()
	assert.False(t, e.Healthy())
}

func TestEngine_StartFailsAfterRuntimeShutdown(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, testTopic("order"), &recordingHandler{})

	require.NoError(t, env.rt.Shutdown(context.Background()))

	assert.Error(t, e.Start(context.Background()))
	assert.False(t, e.Healthy())
}

func TestEngine_Stats(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, testTopic("order"), &recordingHandler{})
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	for i := 0; i < 2; i++ {
		_, err := e.Enqueue(ctx, EnqueueRequest{Topic: "order", DueAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
	}

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order", stats.Topic)
	assert.Equal(t, "order_delayed_queue", stats.QueueName)
	assert.True(t, stats.Listening)
	assert.True(t, stats.Healthy)
	assert.Equal(t, int64(2), stats.PendingCount)
	assert.Equal(t, int64(2), stats.DelayedQueueSize)
	assert.Equal(t, int64(0), stats.ReadyQueueSize)
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Zero(t, stats.Delivered)
}
