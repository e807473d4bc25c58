package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/api/dto"
	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/engine"
	"github.com/arnabghosh/delayed-queue/internal/storage"
	"github.com/gin-gonic/gin"
)

// MessageHandler handles message API requests
type MessageHandler struct {
	registry *engine.Registry
	store    storage.MessageRepository
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(registry *engine.Registry, store storage.MessageRepository) *MessageHandler {
	return &MessageHandler{
		registry: registry,
		store:    store,
	}
}

// Enqueue godoc
// @Summary Enqueue a delayed message
// @Description Persist a message and deliver it to its topic handler at due_at (or after delay)
// @Tags messages
// @Accept json
// @Produce json
// @Param request body dto.EnqueueRequest true "Message"
// @Success 201 {object} dto.EnqueueResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /api/v1/messages [post]
func (h *MessageHandler) Enqueue(c *gin.Context) {
	var body dto.EnqueueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err))
		return
	}

	id, err := h.enqueue(c, body)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.EnqueueResponse{MessageID: id})
}

// EnqueueBatch godoc
// @Summary Enqueue several delayed messages
// @Description Each item is accepted or rejected on its own; results keep request order
// @Tags messages
// @Accept json
// @Produce json
// @Param request body dto.BatchEnqueueRequest true "Messages"
// @Success 200 {object} dto.BatchEnqueueResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/v1/messages/batch [post]
func (h *MessageHandler) EnqueueBatch(c *gin.Context) {
	var body dto.BatchEnqueueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err))
		return
	}

	resp := dto.BatchEnqueueResponse{Results: make([]dto.BatchItemResult, 0, len(body.Messages))}
	for i, item := range body.Messages {
		result := dto.BatchItemResult{Index: i}
		id, err := h.enqueue(c, item)
		if err != nil {
			result.Code = domain.ErrorCode(err)
			result.Error = err.Error()
			resp.Rejected++
		} else {
			result.MessageID = id
			resp.Accepted++
		}
		resp.Results = append(resp.Results, result)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *MessageHandler) enqueue(c *gin.Context, body dto.EnqueueRequest) (string, error) {
	req, err := dto.ToEnqueueRequest(body, time.Now())
	if err != nil {
		return "", err
	}
	return h.registry.Enqueue(c.Request.Context(), req)
}

// GetMessage godoc
// @Summary Get a message
// @Description Get the stored record of a message by ID
// @Tags messages
// @Produce json
// @Param messageId path string true "Message ID"
// @Success 200 {object} dto.MessageResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/v1/messages/{messageId} [get]
func (h *MessageHandler) GetMessage(c *gin.Context) {
	msg, err := h.store.FindByMessageID(c.Request.Context(), c.Param("messageId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToMessageResponse(msg))
}

// Redeliver godoc
// @Summary Re-deliver a message now
// @Description Run one delivery attempt under the message lease and report its outcome
// @Tags messages
// @Produce json
// @Param messageId path string true "Message ID"
// @Success 200 {object} dto.RedeliverResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /api/v1/messages/{messageId}/redeliver [post]
func (h *MessageHandler) Redeliver(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("messageId")

	msg, err := h.store.FindByMessageID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	e, err := h.registry.Get(msg.Topic)
	if err != nil {
		respondError(c, err)
		return
	}

	outcome, err := e.Redeliver(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.RedeliverResponse{MessageID: id, Outcome: outcome.String()})
}
