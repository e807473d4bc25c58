package engine

import (
	"context"
	"errors"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/mq"
)

// dispatch is the periodic tick: promote due entries, then hand a bounded batch of
// ready IDs to the pool. Errors are logged and the next tick runs regardless.
func (e *TopicEngine) dispatch(ctx context.Context) {
	if !e.listening.Load() {
		return
	}

	if _, err := e.queue.PromoteDue(ctx, e.now()); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Error("Failed to promote due messages", "error", err)
	}

	timeout := e.config.PollTimeout
	for i := 0; i < e.opts.DispatchBatch; i++ {
		id, err := e.queue.PopReady(ctx, timeout)
		if err != nil {
			if errors.Is(err, mq.ErrNoMessage) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrQueueClosed) {
				e.logger.Warn("Ready queue closed, skipping dispatch")
				return
			}
			e.logger.Error("Failed to poll ready queue", "error", err)
			return
		}
		e.submit(id)

		// only the first pop waits
		timeout = 0
	}
}

// submit hands a ready ID to the pool without blocking the tick
func (e *TopicEngine) submit(messageID string) {
	e.inflight.Store(messageID, struct{}{})

	err := e.rt.Pool().TrySubmit(func() {
		defer e.inflight.Delete(messageID)
		e.Process(context.Background(), messageID)
	})
	if err != nil {
		e.inflight.Delete(messageID)
		e.dropped.Add(1)
		e.logger.Warn("Processor pool rejected message, dropping",
			"message_id", messageID,
			"error", err,
		)
	}
}

// Redeliver processes messageID through the pool's saturation policy and waits for
// the outcome. Used for operator-triggered re-delivery.
func (e *TopicEngine) Redeliver(ctx context.Context, messageID string) (Outcome, error) {
	result := make(chan Outcome, 1)
	err := e.rt.Pool().Submit(func() {
		result <- e.Process(context.WithoutCancel(ctx), messageID)
	})
	if err != nil {
		return OutcomeAborted, err
	}

	select {
	case o := <-result:
		return o, nil
	case <-ctx.Done():
		return OutcomeAborted, ctx.Err()
	}
}
