package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/lease"
)

// EnqueueRequest asks for Content to be delivered to Topic at DueAt
type EnqueueRequest struct {
	Content  string    `json:"content" validate:"max=1048576"`
	Topic    string    `json:"topic" validate:"required,max=64"`
	DueAt    time.Time `json:"due_at" validate:"required"`
	DedupKey string    `json:"dedup_key,omitempty" validate:"max=256"`
}

// Validate runs struct validation on the request
func (r EnqueueRequest) Validate() error {
	if err := domain.Validator().Struct(r); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	return nil
}

// Enqueue persists a new PENDING message and arms its delivery.
//
// The message ID is returned on success. Failures map to domain.ErrValidationFailed,
// domain.ErrDuplicate, domain.ErrAlreadyExpired and domain.ErrSchedulingFailed; a
// rejected duplicate never reveals the ID of the existing message.
func (e *TopicEngine) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.Topic != e.config.Name {
		return "", fmt.Errorf("%w: topic %q sent to engine %q", domain.ErrValidationFailed, req.Topic, e.config.Name)
	}

	msg, err := e.persist(ctx, req)
	if err != nil {
		return "", err
	}
	e.enqueued.Add(1)

	now := e.now()
	if msg.IsDue(now) {
		e.logger.Info("Message due on arrival, processing immediately", "message_id", msg.MessageID)
		e.Process(ctx, msg.MessageID)
		return msg.MessageID, nil
	}

	if err := e.scheduleWithRetry(ctx, msg); err != nil {
		return "", err
	}

	e.logger.Info("Delayed message added",
		"message_id", msg.MessageID,
		"due_at", msg.DueAt,
		"delay", msg.Delay(now),
	)
	return msg.MessageID, nil
}

// persist runs the dedup and expiry checks and saves the record, holding the topic's
// dedup lease across check and insert when duplicates are disallowed
func (e *TopicEngine) persist(ctx context.Context, req EnqueueRequest) (*domain.Message, error) {
	if !e.config.AllowDuplicates && req.DedupKey != "" {
		l, err := e.locker.Acquire(ctx, lease.DedupLockName(e.config.Name, req.DedupKey), e.config.LockWaitTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire dedup lease: %w", err)
		}
		defer e.release(l)

		existing, err := e.store.FindByDedupKey(ctx, req.DedupKey, e.config.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check dedup key: %w", err)
		}
		if len(existing) > 0 {
			e.logger.Warn("Duplicate message rejected", "dedup_key", req.DedupKey)
			return nil, fmt.Errorf("%w: dedup_key %s", domain.ErrDuplicate, req.DedupKey)
		}
	}

	now := e.now()
	if req.DueAt.Before(now) {
		e.logger.Warn("Message already expired", "due_at", req.DueAt)
		return nil, fmt.Errorf("%w: due_at %s", domain.ErrAlreadyExpired, req.DueAt.Format(time.RFC3339Nano))
	}

	msg := domain.NewMessage(e.ids.NextID(), e.config.Name, req.Content, req.DedupKey, req.DueAt, now)
	if err := e.store.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// scheduleWithRetry arms the delay queue, deleting the record when every attempt fails
func (e *TopicEngine) scheduleWithRetry(ctx context.Context, msg *domain.Message) error {
	var lastErr error
	for attempt := 1; attempt <= e.opts.EnqueueRetries; attempt++ {
		lastErr = e.queue.Schedule(ctx, msg.MessageID, msg.DueAt)
		if lastErr == nil {
			return nil
		}

		e.logger.Warn("Failed to add message to delay queue",
			"message_id", msg.MessageID,
			"attempt", attempt,
			"remaining", e.opts.EnqueueRetries-attempt,
			"error", lastErr,
		)
		if errors.Is(lastErr, domain.ErrQueueClosed) {
			break
		}
		if attempt < e.opts.EnqueueRetries {
			if err := sleep(ctx, e.opts.EnqueueBackoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	// Compensate: the record must not outlive a failed enqueue
	cleanupCtx := context.WithoutCancel(ctx)
	if err := e.queue.Remove(cleanupCtx, msg.MessageID); err != nil {
		e.logger.Error("Failed to remove message from queue after scheduling failure",
			"message_id", msg.MessageID,
			"error", err,
		)
	}
	if _, err := e.store.DeleteByMessageID(cleanupCtx, msg.MessageID); err != nil {
		e.logger.Error("Failed to roll back message after scheduling failure",
			"message_id", msg.MessageID,
			"error", err,
		)
	} else {
		e.logger.Error("Scheduling failed, message rolled back",
			"message_id", msg.MessageID,
			"error", lastErr,
		)
	}
	return fmt.Errorf("%w: %v", domain.ErrSchedulingFailed, lastErr)
}

// release gives up a lease on a context that survives caller cancellation.
// A lost lease only has its watchdog stopped.
func (e *TopicEngine) release(l *lease.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Release(ctx); err != nil {
		if errors.Is(err, domain.ErrLeaseNotHeld) {
			e.logger.Warn("Lease expired before release", "lock", l.Name())
			return
		}
		e.logger.Warn("Failed to release lease", "lock", l.Name(), "error", err)
	}
}
