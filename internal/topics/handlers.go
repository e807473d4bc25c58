// Package topics holds the business handlers bound to topics and the registry that
// resolves them by name.
package topics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
)

// Built-in handler names
const (
	HandlerOrder        = "order"
	HandlerNotification = "notification"
	HandlerTask         = "task"
	HandlerEmail        = "email"
	HandlerKafka        = "kafka"
)

// SimulatedHandler logs the due message and pretends to work for a fixed time.
// It stands in for the downstream service a topic would call.
type SimulatedHandler struct {
	action string
	work   time.Duration
	logger *slog.Logger

	handled atomic.Int64
}

// NewSimulatedHandler creates a handler performing action in work time
func NewSimulatedHandler(action string, work time.Duration, logger *slog.Logger) *SimulatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedHandler{
		action: action,
		work:   work,
		logger: logger.With("component", "topic_handler", "action", action),
	}
}

// NewOrderHandler cancels unpaid orders and auto-confirms deliveries
func NewOrderHandler(work time.Duration, logger *slog.Logger) *SimulatedHandler {
	return NewSimulatedHandler("cancel_order", work, logger)
}

// NewNotificationHandler sends delayed notifications
func NewNotificationHandler(work time.Duration, logger *slog.Logger) *SimulatedHandler {
	return NewSimulatedHandler("send_notification", work, logger)
}

// NewTaskHandler runs delayed maintenance tasks
func NewTaskHandler(work time.Duration, logger *slog.Logger) *SimulatedHandler {
	return NewSimulatedHandler("run_task", work, logger)
}

// NewEmailHandler sends delayed emails
func NewEmailHandler(work time.Duration, logger *slog.Logger) *SimulatedHandler {
	return NewSimulatedHandler("send_email", work, logger)
}

// Handle logs the message and waits out the simulated work
func (h *SimulatedHandler) Handle(ctx context.Context, msg *domain.Message) error {
	h.logger.Info("Handling delayed message",
		"message_id", msg.MessageID,
		"topic", msg.Topic,
		"content", msg.Content,
		"due_at", msg.DueAt,
	)

	if h.work > 0 {
		t := time.NewTimer(h.work)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	h.handled.Add(1)
	return nil
}

// Handled returns the number of messages handled successfully
func (h *SimulatedHandler) Handled() int64 {
	return h.handled.Load()
}
