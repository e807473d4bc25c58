package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/lease"
)

// Outcome is the result of one delivery attempt
type Outcome int

const (
	// OutcomeDelivered means the handler succeeded and the record is DONE
	OutcomeDelivered Outcome = iota
	// OutcomeHandlerFailed means the handler failed and the record is back to PENDING
	OutcomeHandlerFailed
	// OutcomeSkipped means the record changed status under us and the claim failed
	OutcomeSkipped
	// OutcomeDuplicate means the record was already DONE
	OutcomeDuplicate
	// OutcomeLeaseTimeout means another holder kept the message lease
	OutcomeLeaseTimeout
	// OutcomeMissing means no record exists for the ID
	OutcomeMissing
	// OutcomeAborted means an infrastructure error stopped the attempt
	OutcomeAborted
)

var outcomeNames = [...]string{
	"delivered", "handler_failed", "skipped", "duplicate", "lease_timeout", "missing", "aborted",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Process delivers one message under its lease. Handler errors never escape; they
// roll the record back to PENDING.
func (e *TopicEngine) Process(ctx context.Context, messageID string) Outcome {
	l, err := e.locker.Acquire(ctx, lease.ProcessorLockName(e.config.QueueName, messageID), e.config.LockWaitTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseTimeout) {
			e.leaseTimeouts.Add(1)
			e.logger.Warn("Timed out acquiring message lease", "message_id", messageID)
			return OutcomeLeaseTimeout
		}
		e.logger.Error("Failed to acquire message lease", "message_id", messageID, "error", err)
		return OutcomeAborted
	}
	defer e.release(l)

	return e.processLeased(ctx, messageID, l)
}

func (e *TopicEngine) processLeased(ctx context.Context, messageID string, l *lease.Lease) Outcome {
	msg, err := e.store.FindByMessageID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			e.logger.Warn("Message not found", "message_id", messageID)
			return OutcomeMissing
		}
		e.logger.Error("Failed to load message", "message_id", messageID, "error", err)
		return OutcomeAborted
	}

	if msg.Status == domain.StatusDone {
		e.logger.Info("Message already processed", "message_id", messageID)
		return OutcomeDuplicate
	}

	// IN_PROGRESS is accepted because we hold the lease: the previous holder is gone
	claimed, err := e.store.UpdateStatus(ctx, messageID, domain.StatusInProgress, domain.StatusPending, domain.StatusInProgress)
	if err != nil {
		e.logger.Error("Failed to claim message", "message_id", messageID, "error", err)
		return OutcomeAborted
	}
	if !claimed {
		e.logger.Warn("Message status changed before claim", "message_id", messageID)
		return OutcomeSkipped
	}
	msg.Status = domain.StatusInProgress

	// Final writes must land even if the caller is cancelled
	writeCtx := context.WithoutCancel(ctx)

	start := time.Now()
	if err := e.invoke(ctx, msg); err != nil {
		e.failed.Add(1)
		if _, uerr := e.store.UpdateStatus(writeCtx, messageID, domain.StatusPending, domain.StatusInProgress); uerr != nil {
			e.logger.Error("Failed to roll message back to pending", "message_id", messageID, "error", uerr)
		}
		e.logger.Error("Failed to process delayed message", "message_id", messageID, "error", err)
		return OutcomeHandlerFailed
	}

	// The handler already ran, so DONE is still committed; another holder may deliver it again
	if !l.Held() {
		e.leasesLost.Add(1)
		e.logger.Warn("Message lease lost during handler", "message_id", messageID)
	}

	done, err := e.store.UpdateStatus(writeCtx, messageID, domain.StatusDone, domain.StatusInProgress)
	if err != nil || !done {
		e.logger.Error("Failed to mark message done", "message_id", messageID, "error", err)
		return OutcomeAborted
	}

	e.delivered.Add(1)
	e.logger.Info("Delayed message processed",
		"message_id", messageID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return OutcomeDelivered
}

// invoke calls the handler, turning a panic into ErrHandlerFailed
func (e *TopicEngine) invoke(ctx context.Context, msg *domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrHandlerFailed, r)
		}
	}()

	if err := e.handler.Handle(ctx, msg.Clone()); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandlerFailed, err)
	}
	return nil
}
