package dto

import (
	"time"

	"github.com/arnabghosh/delayed-queue/internal/engine"
)

// EnqueueRequest is the body of POST /api/v1/messages.
// DueAt accepts RFC3339 or "2006-01-02 15:04:05"; Delay is a Go duration from now.
type EnqueueRequest struct {
	Content  string `json:"content" example:"{\"order_id\":42}"`
	Topic    string `json:"topic" binding:"required" example:"order"`
	DueAt    string `json:"due_at,omitempty" example:"2025-01-18T12:34:56Z"`
	Delay    string `json:"delay,omitempty" example:"30m"`
	DedupKey string `json:"dedup_key,omitempty" example:"order-42"`
}

// EnqueueResponse carries the ID of an accepted message
type EnqueueResponse struct {
	MessageID string `json:"message_id" example:"0190a5d2-6b1c-7c3e-9f3a-1b2c3d4e5f60"`
}

// BatchEnqueueRequest is the body of POST /api/v1/messages/batch
type BatchEnqueueRequest struct {
	Messages []EnqueueRequest `json:"messages" binding:"required,min=1,max=100,dive"`
}

// BatchItemResult is the outcome of one batch item
type BatchItemResult struct {
	Index     int    `json:"index"`
	MessageID string `json:"message_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchEnqueueResponse reports every batch item in request order
type BatchEnqueueResponse struct {
	Results  []BatchItemResult `json:"results"`
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
}

// MessageResponse is a stored message record
type MessageResponse struct {
	MessageID   string     `json:"message_id"`
	Topic       string     `json:"topic"`
	Content     string     `json:"content"`
	DedupKey    string     `json:"dedup_key,omitempty"`
	Status      string     `json:"status" example:"PENDING"`
	DueAt       time.Time  `json:"due_at"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// RedeliverResponse reports the outcome of an operator-triggered delivery
type RedeliverResponse struct {
	MessageID string `json:"message_id"`
	Outcome   string `json:"outcome" example:"delivered"`
}

// TopicStatsResponse holds the stats of every topic
type TopicStatsResponse struct {
	Topics map[string]engine.TopicStats `json:"topics"`
	Total  int                          `json:"total"`
}

// TopicHealthResponse is the health of one topic
type TopicHealthResponse struct {
	Topic   string `json:"topic"`
	Healthy bool   `json:"healthy"`
}

// HealthResponse is the service health
type HealthResponse struct {
	Status string   `json:"status" example:"healthy"`
	Topics []string `json:"topics"`
}
