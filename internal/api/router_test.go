package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/api/dto"
	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/engine"
	"github.com/arnabghosh/delayed-queue/internal/lease"
	"github.com/arnabghosh/delayed-queue/internal/mq"
	"github.com/arnabghosh/delayed-queue/internal/runtime"
	"github.com/arnabghosh/delayed-queue/internal/storage/inmemory"
	"github.com/arnabghosh/delayed-queue/internal/workerpool"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router    *Router
	registry  *engine.Registry
	store     *inmemory.MessageRepository
	delivered atomic.Int64
}

func newTestServer(t *testing.T, config RouterConfig, start bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rt := runtime.New(workerpool.Config{CoreWorkers: 2, MaxWorkers: 4, QueueCapacity: 10, Policy: workerpool.PolicyCallerRuns}, 1, nil)
	s := &testServer{
		registry: engine.NewRegistry(nil),
		store:    inmemory.NewMessageRepository(),
	}
	t.Cleanup(func() {
		s.registry.StopAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})

	handler := engine.HandlerFunc(func(ctx context.Context, msg *domain.Message) error {
		s.delivered.Add(1)
		return nil
	})
	e, err := engine.New(domain.TopicConfig{
		Name:          "order",
		CheckInterval: 10 * time.Millisecond,
		PollTimeout:   5 * time.Millisecond,
	}, handler, engine.Dependencies{
		Store:   s.store,
		Queue:   mq.NewInMemoryDelayQueue(),
		Locker:  lease.NewMemoryLocker(0),
		Runtime: rt,
	})
	require.NoError(t, err)
	require.NoError(t, s.registry.Register(e))

	if start {
		require.NoError(t, s.registry.StartAll(context.Background()))
	}

	s.router = NewRouter(s.registry, s.store, config)
	return s
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.Engine().ServeHTTP(w, req)
	return w
}

func TestNewRouter(t *testing.T) {
	s := newTestServer(t, RouterConfig{}, false)

	assert.NotNil(t, s.router)
	assert.NotNil(t, s.router.engine)
	assert.NotNil(t, s.router.messageHandler)
	assert.NotNil(t, s.router.topicHandler)
	assert.Equal(t, s.router.engine, s.router.Engine())
}

func TestRouter_HealthEndpoint(t *testing.T) {
	t.Run("not started", func(t *testing.T) {
		s := newTestServer(t, RouterConfig{}, false)

		w := s.do(http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("started", func(t *testing.T) {
		s := newTestServer(t, RouterConfig{}, true)

		w := s.do(http.MethodGet, "/health", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, []string{"order"}, resp.Topics)
	})
}

func TestRouter_EnqueueAndDeliver(t *testing.T) {
	s := newTestServer(t, RouterConfig{}, true)

	w := s.do(http.MethodPost, "/api/v1/messages", dto.EnqueueRequest{
		Topic:   "order",
		Content: `{"order_id":42}`,
		Delay:   "50ms",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created dto.EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.MessageID)

	require.Eventually(t, func() bool {
		w := s.do(http.MethodGet, "/api/v1/messages/"+created.MessageID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var msg dto.MessageResponse
		return json.Unmarshal(w.Body.Bytes(), &msg) == nil && msg.Status == string(domain.StatusDone)
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(1), s.delivered.Load())
}

func TestRouter_Routes(t *testing.T) {
	s := newTestServer(t, RouterConfig{}, false)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{"unknown topic", http.MethodPost, "/api/v1/messages", dto.EnqueueRequest{Topic: "nope", Delay: "1m"}, http.StatusNotFound},
		{"missing topic", http.MethodPost, "/api/v1/messages", dto.EnqueueRequest{Delay: "1m"}, http.StatusBadRequest},
		{"batch", http.MethodPost, "/api/v1/messages/batch", dto.BatchEnqueueRequest{Messages: []dto.EnqueueRequest{{Topic: "order", Delay: "1m"}}}, http.StatusOK},
		{"empty batch", http.MethodPost, "/api/v1/messages/batch", dto.BatchEnqueueRequest{}, http.StatusBadRequest},
		{"message not found", http.MethodGet, "/api/v1/messages/missing", nil, http.StatusNotFound},
		{"redeliver not found", http.MethodPost, "/api/v1/messages/missing/redeliver", nil, http.StatusNotFound},
		{"topic stats", http.MethodGet, "/api/v1/topics/stats", nil, http.StatusOK},
		{"topic health not found", http.MethodGet, "/api/v1/topics/nope/health", nil, http.StatusNotFound},
		{"topic health stopped", http.MethodGet, "/api/v1/topics/order/health", nil, http.StatusServiceUnavailable},
		{"unknown route", http.MethodGet, "/api/v1/nonexistent", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRouter_RateLimitOnMessages(t *testing.T) {
	s := newTestServer(t, RouterConfig{RateLimitEnabled: true, RateLimitRPS: 0.001, RateLimitBurst: 1}, false)

	body := dto.EnqueueRequest{Topic: "order", Delay: "1h"}
	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/messages", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/api/v1/messages", body).Code)

	// topic routes are not limited
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/topics/stats", nil).Code)
}
