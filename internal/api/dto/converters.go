package dto

import (
	"fmt"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/engine"
	"github.com/arnabghosh/delayed-queue/pkg/utils"
)

// ToMessageResponse converts domain.Message to dto.MessageResponse
func ToMessageResponse(msg *domain.Message) *MessageResponse {
	if msg == nil {
		return nil
	}

	return &MessageResponse{
		MessageID:   msg.MessageID,
		Topic:       msg.Topic,
		Content:     msg.Content,
		DedupKey:    msg.DedupKey,
		Status:      string(msg.Status),
		DueAt:       msg.DueAt,
		CreatedAt:   msg.CreatedAt,
		ProcessedAt: msg.ProcessedAt,
	}
}

// ToEnqueueRequest resolves the due time of req against now
func ToEnqueueRequest(req EnqueueRequest, now time.Time) (engine.EnqueueRequest, error) {
	dueAt, err := utils.ResolveDueTime(req.DueAt, req.Delay, now)
	if err != nil {
		return engine.EnqueueRequest{}, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}

	return engine.EnqueueRequest{
		Content:  req.Content,
		Topic:    req.Topic,
		DueAt:    dueAt,
		DedupKey: req.DedupKey,
	}, nil
}

// ToTopicStatsResponse wraps the per-topic stats map
func ToTopicStatsResponse(stats map[string]engine.TopicStats) *TopicStatsResponse {
	return &TopicStatsResponse{
		Topics: stats,
		Total:  len(stats),
	}
}
