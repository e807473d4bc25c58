package engine

import (
	"context"

	"github.com/arnabghosh/delayed-queue/internal/domain"
)

// Handler runs the business logic of a topic for one due message.
// A returned error (or panic) rolls the message back to PENDING for a later re-delivery.
type Handler interface {
	Handle(ctx context.Context, msg *domain.Message) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *domain.Message) error

// Handle calls f(ctx, msg)
func (f HandlerFunc) Handle(ctx context.Context, msg *domain.Message) error {
	return f(ctx, msg)
}
