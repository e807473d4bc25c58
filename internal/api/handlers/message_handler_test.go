package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/api/dto"
	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func setupMessageRouter(t *testing.T) (*gin.Engine, *testBackend) {
	b := newTestBackend(t, defaultTestTopics()...)
	handler := NewMessageHandler(b.registry, b.store)

	router, _ := setupGinTest()
	router.POST("/messages", handler.Enqueue)
	router.POST("/messages/batch", handler.EnqueueBatch)
	router.GET("/messages/:messageId", handler.GetMessage)
	router.POST("/messages/:messageId/redeliver", handler.Redeliver)
	return router, b
}

func TestMessageHandler_Enqueue_Success(t *testing.T) {
	router, b := setupMessageRouter(t)

	w := postJSON(router, "/messages", dto.EnqueueRequest{Content: "cancel order 42", Topic: "order", Delay: "10m"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp dto.EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.MessageID)

	msg, err := b.store.FindByMessageID(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "cancel order 42", msg.Content)
	assert.Equal(t, domain.StatusPending, msg.Status)
}

func TestMessageHandler_Enqueue_Errors(t *testing.T) {
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed body", "not an object", http.StatusBadRequest, "VALIDATION_FAILED"},
		{"missing topic", dto.EnqueueRequest{Delay: "1m"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"missing due time", dto.EnqueueRequest{Topic: "order"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad due time", dto.EnqueueRequest{Topic: "order", DueAt: "next tuesday"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown topic", dto.EnqueueRequest{Topic: "sms", DueAt: future}, http.StatusNotFound, "TOPIC_NOT_FOUND"},
		{"expired", dto.EnqueueRequest{Topic: "order", DueAt: past}, http.StatusUnprocessableEntity, "ALREADY_EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupMessageRouter(t)

			w := postJSON(router, "/messages", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestMessageHandler_Enqueue_Duplicate(t *testing.T) {
	router, _ := setupMessageRouter(t)
	body := dto.EnqueueRequest{Topic: "email", Delay: "1h", DedupKey: "welcome-7"}

	w := postJSON(router, "/messages", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(router, "/messages", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "DUPLICATE")
}

func TestMessageHandler_EnqueueBatch(t *testing.T) {
	router, _ := setupMessageRouter(t)

	w := postJSON(router, "/messages/batch", dto.BatchEnqueueRequest{Messages: []dto.EnqueueRequest{
		{Topic: "order", Delay: "1m"},
		{Topic: "sms", Delay: "1m"},
		{Topic: "email", DueAt: time.Now().Add(time.Hour).Format("2006-01-02 15:04:05")},
	}})

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.BatchEnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.Results[0].MessageID)
	assert.Equal(t, "TOPIC_NOT_FOUND", resp.Results[1].Code)
	assert.NotEmpty(t, resp.Results[2].MessageID)
}

func TestMessageHandler_EnqueueBatch_Empty(t *testing.T) {
	router, _ := setupMessageRouter(t)

	w := postJSON(router, "/messages/batch", dto.BatchEnqueueRequest{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageHandler_GetMessage(t *testing.T) {
	router, _ := setupMessageRouter(t)

	w := postJSON(router, "/messages", dto.EnqueueRequest{Topic: "order", Delay: "1h", DedupKey: "biz-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created dto.EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/"+created.MessageID, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, created.MessageID, resp.MessageID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "biz-1", resp.DedupKey)
	assert.Nil(t, resp.ProcessedAt)
}

func TestMessageHandler_GetMessage_NotFound(t *testing.T) {
	router, _ := setupMessageRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestMessageHandler_GetMessage_StoreError(t *testing.T) {
	b := newTestBackend(t)
	mockRepo := &MockMessageRepository{
		FindByMessageIDFunc: func(ctx context.Context, messageID string) (*domain.Message, error) {
			return nil, errors.New("connection reset")
		},
	}
	handler := NewMessageHandler(b.registry, mockRepo)
	router, w := setupGinTest()
	router.GET("/messages/:messageId", handler.GetMessage)

	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/m-1", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestMessageHandler_GetMessage_DatabaseUnavailable(t *testing.T) {
	b := newTestBackend(t)
	mockRepo := &MockMessageRepository{
		FindByMessageIDFunc: func(ctx context.Context, messageID string) (*domain.Message, error) {
			return nil, fmt.Errorf("%w: failed to get message: %w", domain.ErrDatabaseError, errors.New("server selection timeout"))
		},
	}
	handler := NewMessageHandler(b.registry, mockRepo)
	router, w := setupGinTest()
	router.GET("/messages/:messageId", handler.GetMessage)

	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/m-1", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMessageHandler_Redeliver(t *testing.T) {
	router, _ := setupMessageRouter(t)

	w := postJSON(router, "/messages", dto.EnqueueRequest{Topic: "order", Delay: "1h"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created dto.EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = postJSON(router, "/messages/"+created.MessageID+"/redeliver", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.RedeliverResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "delivered", resp.Outcome)

	w = postJSON(router, "/messages/"+created.MessageID+"/redeliver", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp.Outcome)

	w = postJSON(router, "/messages/missing/redeliver", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
