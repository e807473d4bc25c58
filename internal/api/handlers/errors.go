package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/api/dto"
	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidationFailed):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, domain.ErrTopicNotFound):
		return http.StatusNotFound, "Topic not found"
	case errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound, "Message not found"
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict, "Duplicate message"
	case errors.Is(err, domain.ErrAlreadyExpired):
		return http.StatusUnprocessableEntity, "Due time already expired"
	case errors.Is(err, domain.ErrSchedulingFailed),
		errors.Is(err, domain.ErrLeaseTimeout),
		errors.Is(err, domain.ErrPoolSaturated),
		errors.Is(err, domain.ErrPoolShutdown):
		return http.StatusServiceUnavailable, "Service unavailable"
	case errors.Is(err, domain.ErrDatabaseError):
		return http.StatusServiceUnavailable, "Storage unavailable"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// respondError writes the error response for err
func respondError(c *gin.Context, err error) {
	status, title := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "Internal server error occurred"
	}

	c.JSON(status, dto.ErrorResponse{
		Error:     title,
		Code:      domain.ErrorCode(err),
		Message:   message,
		Timestamp: time.Now(),
	})
}
