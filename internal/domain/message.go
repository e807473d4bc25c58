package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a delayed message
type Status string

const (
	// StatusPending means the message is waiting for its due time or for a retry
	StatusPending Status = "PENDING"

	// StatusInProgress means a worker holding the message lease is running the handler
	StatusInProgress Status = "IN_PROGRESS"

	// StatusDone is terminal: the handler succeeded and the message is never re-delivered
	StatusDone Status = "DONE"
)

// Valid reports whether s is one of the three known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
//
// IN_PROGRESS -> IN_PROGRESS is the re-claim of an orphaned in-flight record and is
// only legal for the holder of the message lease.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusDone || next == StatusPending || next == StatusInProgress
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Message is the unit of work scheduled for delivery at DueAt
type Message struct {
	// ID is the durable store primary key, assigned by the store on Save
	ID string `json:"id" bson:"-"`

	// MessageID is the globally unique handle assigned at enqueue time.
	// The queue, the lease and every cross-component reference use it.
	MessageID string `json:"message_id" bson:"message_id"`

	// DedupKey is the optional caller-supplied business key
	// Example: "order-10023" for an order-timeout cancellation
	DedupKey string `json:"dedup_key,omitempty" bson:"dedup_key,omitempty"`

	// Content is passed to the handler verbatim
	Content string `json:"content" bson:"content"`

	// Topic selects the per-topic pipeline (queue, handler, policy)
	Topic string `json:"topic" bson:"topic"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`

	// DueAt is when the message becomes eligible for delivery
	DueAt time.Time `json:"due_at" bson:"due_at"`

	// ProcessedAt is set on the terminal transition to DONE
	ProcessedAt *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`

	Status Status `json:"status" bson:"status"`
}

// NewMessage builds a PENDING message created now
func NewMessage(messageID, topic, content, dedupKey string, dueAt, now time.Time) *Message {
	return &Message{
		MessageID: messageID,
		DedupKey:  dedupKey,
		Content:   content,
		Topic:     topic,
		CreatedAt: now,
		DueAt:     dueAt,
		Status:    StatusPending,
	}
}

// Validate checks the fields a message must carry before it is persisted
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: message is nil", ErrValidationFailed)
	}
	if m.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrValidationFailed)
	}
	if m.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrValidationFailed)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidationFailed, m.Status)
	}
	if m.DueAt.Before(m.CreatedAt) {
		return fmt.Errorf("%w: due_at %s is before created_at %s", ErrValidationFailed,
			m.DueAt.Format(time.RFC3339Nano), m.CreatedAt.Format(time.RFC3339Nano))
	}
	return nil
}

// Delay returns how long until the message is due, or 0 when it is already overdue
func (m *Message) Delay(now time.Time) time.Duration {
	if d := m.DueAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IsDue reports whether the message is due at or before now
func (m *Message) IsDue(now time.Time) bool {
	return !m.DueAt.After(now)
}

// Clone returns a deep copy so stores never hand out shared pointers
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ProcessedAt != nil {
		t := *m.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}
