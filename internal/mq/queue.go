package mq

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage is returned by PopReady when nothing became ready within the timeout
var ErrNoMessage = errors.New("no ready message")

// DelayQueue holds message IDs until their due time and then hands them to consumers.
// One instance serves one topic queue. Implementations are safe for concurrent use and
// a message ID is present at most once across the delayed and ready stages.
type DelayQueue interface {
	// Schedule inserts or re-schedules messageID for dueAt.
	// A dueAt at or before now goes straight to the ready stage.
	Schedule(ctx context.Context, messageID string, dueAt time.Time) error

	// PromoteDue moves every entry due at or before now to the ready stage
	// and returns how many were moved
	PromoteDue(ctx context.Context, now time.Time) (int, error)

	// PopReady removes and returns the head of the ready stage, waiting at most timeout.
	// Returns ErrNoMessage when the wait expires.
	PopReady(ctx context.Context, timeout time.Duration) (string, error)

	// PushReady appends messageID to the ready stage.
	// Returns false when it was already ready.
	PushReady(ctx context.Context, messageID string) (bool, error)

	// Contains reports whether messageID is delayed or ready
	Contains(ctx context.Context, messageID string) (bool, error)

	// Remove drops messageID from both stages
	Remove(ctx context.Context, messageID string) error

	// Size returns the number of delayed and ready entries
	Size(ctx context.Context) (QueueSize, error)

	// Clear drops every entry
	Clear(ctx context.Context) error
}

// QueueSize represents the depth of both queue stages
type QueueSize struct {
	// Delayed is the number of entries waiting for their due time
	Delayed int64 `json:"delayed"`

	// Ready is the number of entries waiting for a worker
	Ready int64 `json:"ready"`
}

// Total returns delayed + ready
func (s QueueSize) Total() int64 {
	return s.Delayed + s.Ready
}
