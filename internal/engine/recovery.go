package engine

import (
	"context"
	"fmt"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/lease"
)

// RecoveryReport counts what a recovery pass did
type RecoveryReport struct {
	// Rearmed is the number of future messages put back in the delay stage
	Rearmed int `json:"rearmed"`

	// Ready is the number of overdue messages pushed to the ready stage
	Ready int `json:"ready"`

	// Skipped is the number of messages left alone (queued, leased or failing)
	Skipped int `json:"skipped"`
}

// Recover re-arms unprocessed records that are missing from the queue.
// IN_PROGRESS records are included when the topic recovers them, unless a live
// instance still holds their lease. Overdue records are only pushed to the ready
// stage when the topic processes its backlog on startup.
func (e *TopicEngine) Recover(ctx context.Context) (RecoveryReport, error) {
	statuses := []domain.Status{domain.StatusPending}
	if e.config.RecoverInProgress {
		statuses = append(statuses, domain.StatusInProgress)
	}
	return e.rearm(ctx, e.config.ProcessBacklogOnStartup, statuses...)
}

// Reconcile re-arms PENDING records missing from the queue, such as those rolled back
// by a failed handler or dropped by a saturated pool. When the topic recovers
// IN_PROGRESS records it also picks up those whose holder died and whose lease has
// since expired.
func (e *TopicEngine) Reconcile(ctx context.Context) (RecoveryReport, error) {
	statuses := []domain.Status{domain.StatusPending}
	if e.config.RecoverInProgress {
		statuses = append(statuses, domain.StatusInProgress)
	}
	return e.rearm(ctx, true, statuses...)
}

// ReplayBacklog pushes overdue PENDING records straight to the ready stage
func (e *TopicEngine) ReplayBacklog(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	msgs, err := e.store.FindOverdue(ctx, e.config.Name, e.now())
	if err != nil {
		return report, fmt.Errorf("failed to load backlog: %w", err)
	}

	for _, msg := range msgs {
		if e.isQueuedOrInflight(ctx, msg.MessageID) {
			report.Skipped++
			continue
		}
		pushed, err := e.queue.PushReady(ctx, msg.MessageID)
		if err != nil {
			e.logger.Error("Failed to replay backlog message", "message_id", msg.MessageID, "error", err)
			report.Skipped++
			continue
		}
		if !pushed {
			report.Skipped++
			continue
		}
		report.Ready++
		e.logger.Debug("Backlog message replayed", "message_id", msg.MessageID)
	}
	return report, nil
}

func (e *TopicEngine) rearm(ctx context.Context, overdue bool, statuses ...domain.Status) (RecoveryReport, error) {
	var report RecoveryReport

	msgs, err := e.store.FindPending(ctx, e.config.Name, statuses...)
	if err != nil {
		return report, fmt.Errorf("failed to load unprocessed messages: %w", err)
	}

	now := e.now()
	for _, msg := range msgs {
		if e.isQueuedOrInflight(ctx, msg.MessageID) {
			report.Skipped++
			continue
		}

		if msg.Status == domain.StatusInProgress {
			held, err := e.locker.IsHeld(ctx, lease.ProcessorLockName(e.config.QueueName, msg.MessageID))
			if err != nil || held {
				e.logger.Info("In-progress message is leased, skipping", "message_id", msg.MessageID)
				report.Skipped++
				continue
			}
		}

		if msg.DueAt.After(now) {
			if err := e.queue.Schedule(ctx, msg.MessageID, msg.DueAt); err != nil {
				e.logger.Error("Failed to re-arm message", "message_id", msg.MessageID, "error", err)
				report.Skipped++
				continue
			}
			report.Rearmed++
			e.logger.Debug("Message re-armed", "message_id", msg.MessageID, "delay", msg.Delay(now))
			continue
		}

		if !overdue {
			report.Skipped++
			continue
		}
		if _, err := e.queue.PushReady(ctx, msg.MessageID); err != nil {
			e.logger.Error("Failed to push overdue message", "message_id", msg.MessageID, "error", err)
			report.Skipped++
			continue
		}
		report.Ready++
		e.logger.Debug("Overdue message pushed for immediate processing", "message_id", msg.MessageID)
	}
	return report, nil
}

// isQueuedOrInflight reports whether messageID is already armed or on this instance's pool.
// Lookup errors count as queued so recovery never double-arms on a flaky backend.
func (e *TopicEngine) isQueuedOrInflight(ctx context.Context, messageID string) bool {
	if _, ok := e.inflight.Load(messageID); ok {
		return true
	}
	queued, err := e.queue.Contains(ctx, messageID)
	if err != nil {
		e.logger.Error("Failed to check queue membership", "message_id", messageID, "error", err)
		return true
	}
	return queued
}
