package storage

import (
	"context"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
)

// MessageRepository defines the durable store for delayed messages.
// The store is authoritative: queue membership is ephemeral and is rebuilt from it.
type MessageRepository interface {
	// Save persists a new message and assigns its ID
	Save(ctx context.Context, msg *domain.Message) error

	// FindByMessageID returns domain.ErrMessageNotFound when no record exists
	FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error)

	// FindByDedupKey returns every message of the topic carrying dedupKey
	FindByDedupKey(ctx context.Context, dedupKey, topic string) ([]*domain.Message, error)

	// UpdateStatus moves a message to status `to` only if its current status is one of
	// `from` (any status when from is empty). ProcessedAt is set when to is DONE.
	// Returns false when no record matched.
	UpdateStatus(ctx context.Context, messageID string, to domain.Status, from ...domain.Status) (bool, error)

	// FindPending returns the topic's messages in the given statuses (PENDING when none given)
	FindPending(ctx context.Context, topic string, statuses ...domain.Status) ([]*domain.Message, error)

	// FindOverdue returns the topic's PENDING messages due at or before asOf
	FindOverdue(ctx context.Context, topic string, asOf time.Time) ([]*domain.Message, error)

	// DeleteByMessageID hard-deletes a record; only used to compensate a failed enqueue
	DeleteByMessageID(ctx context.Context, messageID string) (bool, error)

	// CountByStatus counts the topic's messages in a status
	CountByStatus(ctx context.Context, topic string, status domain.Status) (int64, error)
}

// PendingStatuses normalises the optional status filter of FindPending
func PendingStatuses(statuses []domain.Status) []domain.Status {
	if len(statuses) == 0 {
		return []domain.Status{domain.StatusPending}
	}
	return statuses
}

// StatusIn reports whether s is in set; an empty set matches everything
func StatusIn(s domain.Status, set []domain.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
