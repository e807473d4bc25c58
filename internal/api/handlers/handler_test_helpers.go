package handlers

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/engine"
	"github.com/arnabghosh/delayed-queue/internal/lease"
	"github.com/arnabghosh/delayed-queue/internal/mq"
	"github.com/arnabghosh/delayed-queue/internal/runtime"
	"github.com/arnabghosh/delayed-queue/internal/storage"
	"github.com/arnabghosh/delayed-queue/internal/storage/inmemory"
	"github.com/arnabghosh/delayed-queue/internal/workerpool"
	"github.com/gin-gonic/gin"
)

// MockMessageRepository implements storage.MessageRepository for testing
type MockMessageRepository struct {
	storage.MessageRepository

	FindByMessageIDFunc func(ctx context.Context, messageID string) (*domain.Message, error)
}

func (m *MockMessageRepository) FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	if m.FindByMessageIDFunc != nil {
		return m.FindByMessageIDFunc(ctx, messageID)
	}
	return nil, domain.ErrMessageNotFound
}

// testBackend is an engine registry over in-memory infrastructure
type testBackend struct {
	registry *engine.Registry
	store    *inmemory.MessageRepository
	rt       *runtime.Runtime
}

func newTestBackend(t *testing.T, topics ...domain.TopicConfig) *testBackend {
	t.Helper()

	rt := runtime.New(workerpool.Config{CoreWorkers: 2, MaxWorkers: 4, QueueCapacity: 10, Policy: workerpool.PolicyCallerRuns}, 1, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})

	b := &testBackend{
		registry: engine.NewRegistry(nil),
		store:    inmemory.NewMessageRepository(),
		rt:       rt,
	}
	queue := mq.NewInMemoryDelayQueue()
	locker := lease.NewMemoryLocker(0)

	for _, cfg := range topics {
		e, err := engine.New(cfg, engine.HandlerFunc(func(ctx context.Context, msg *domain.Message) error {
			return nil
		}), engine.Dependencies{
			Store:   b.store,
			Queue:   queue,
			Locker:  locker,
			Runtime: rt,
		})
		if err != nil {
			t.Fatalf("engine.New() error = %v", err)
		}
		if err := b.registry.Register(e); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return b
}

func defaultTestTopics() []domain.TopicConfig {
	return []domain.TopicConfig{
		{Name: "order", AllowDuplicates: true},
		{Name: "email", AllowDuplicates: false},
	}
}

func setupGinTest() (*gin.Engine, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	w := httptest.NewRecorder()
	return router, w
}
