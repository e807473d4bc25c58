package inmemory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/storage"
)

// MessageRepository is an in-memory implementation of the durable message store.
// It keeps the same compare-and-set semantics as the database-backed stores so the
// engine can be exercised without external services.
type MessageRepository struct {
	mu     sync.RWMutex
	data   map[string]*domain.Message // key: message ID
	nextID int64
	now    func() time.Time
}

// NewMessageRepository creates a new in-memory message repository
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		data: make(map[string]*domain.Message),
		now:  time.Now,
	}
}

// Save persists a new message
// Thread-safe for concurrent writes
func (r *MessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[msg.MessageID]; exists {
		return domain.ErrDuplicate
	}

	r.nextID++
	msg.ID = strconv.FormatInt(r.nextID, 10)
	r.data[msg.MessageID] = msg.Clone()
	return nil
}

// FindByMessageID retrieves a message by its message ID
func (r *MessageRepository) FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, exists := r.data[messageID]
	if !exists {
		return nil, domain.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// FindByDedupKey returns the topic's messages with the given dedup key
func (r *MessageRepository) FindByDedupKey(ctx context.Context, dedupKey, topic string) ([]*domain.Message, error) {
	return r.filter(func(m *domain.Message) bool {
		return m.Topic == topic && m.DedupKey == dedupKey
	}), nil
}

// UpdateStatus applies a compare-and-set status transition
func (r *MessageRepository) UpdateStatus(ctx context.Context, messageID string, to domain.Status, from ...domain.Status) (bool, error) {
	if !to.Valid() {
		return false, domain.ErrValidationFailed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msg, exists := r.data[messageID]
	if !exists || !storage.StatusIn(msg.Status, from) {
		return false, nil
	}

	msg.Status = to
	if to == domain.StatusDone {
		now := r.now()
		msg.ProcessedAt = &now
	}
	return true, nil
}

// FindPending returns the topic's messages in the requested statuses
func (r *MessageRepository) FindPending(ctx context.Context, topic string, statuses ...domain.Status) ([]*domain.Message, error) {
	statuses = storage.PendingStatuses(statuses)
	return r.filter(func(m *domain.Message) bool {
		return m.Topic == topic && storage.StatusIn(m.Status, statuses)
	}), nil
}

// FindOverdue returns the topic's PENDING messages due at or before asOf
func (r *MessageRepository) FindOverdue(ctx context.Context, topic string, asOf time.Time) ([]*domain.Message, error) {
	return r.filter(func(m *domain.Message) bool {
		return m.Topic == topic && m.Status == domain.StatusPending && !m.DueAt.After(asOf)
	}), nil
}

// DeleteByMessageID removes a message
func (r *MessageRepository) DeleteByMessageID(ctx context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[messageID]; !exists {
		return false, nil
	}
	delete(r.data, messageID)
	return true, nil
}

// CountByStatus counts the topic's messages in a status
func (r *MessageRepository) CountByStatus(ctx context.Context, topic string, status domain.Status) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, m := range r.data {
		if m.Topic == topic && m.Status == status {
			n++
		}
	}
	return n, nil
}

// Count returns the total number of messages
func (r *MessageRepository) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.data))
}

// Clear removes all messages from the repository
// Useful for testing
func (r *MessageRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = make(map[string]*domain.Message)
}

// filter returns clones sorted by due time
func (r *MessageRepository) filter(keep func(*domain.Message) bool) []*domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Message, 0)
	for _, m := range r.data {
		if keep(m) {
			result = append(result, m.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DueAt.Before(result[j].DueAt)
	})
	return result
}
