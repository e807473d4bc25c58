package handlers

import (
	"net/http"

	"github.com/arnabghosh/delayed-queue/internal/api/dto"
	"github.com/arnabghosh/delayed-queue/internal/engine"
	"github.com/gin-gonic/gin"
)

// TopicHandler serves topic stats and health
type TopicHandler struct {
	registry *engine.Registry
}

// NewTopicHandler creates a new topic handler
func NewTopicHandler(registry *engine.Registry) *TopicHandler {
	return &TopicHandler{registry: registry}
}

// Stats godoc
// @Summary Stats of every topic
// @Tags topics
// @Produce json
// @Success 200 {object} dto.TopicStatsResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/v1/topics/stats [get]
func (h *TopicHandler) Stats(c *gin.Context) {
	stats, err := h.registry.AllStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTopicStatsResponse(stats))
}

// Health godoc
// @Summary Health of one topic
// @Tags topics
// @Produce json
// @Param topic path string true "Topic"
// @Success 200 {object} dto.TopicHealthResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 503 {object} dto.TopicHealthResponse
// @Router /api/v1/topics/{topic}/health [get]
func (h *TopicHandler) Health(c *gin.Context) {
	e, err := h.registry.Get(c.Param("topic"))
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !e.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.TopicHealthResponse{Topic: e.Topic(), Healthy: e.Healthy()})
}

// ServiceHealth reports healthy only when every topic is
func (h *TopicHandler) ServiceHealth(c *gin.Context) {
	resp := dto.HealthResponse{Status: "healthy", Topics: h.registry.Topics()}
	status := http.StatusOK
	if !h.registry.Healthy() {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
