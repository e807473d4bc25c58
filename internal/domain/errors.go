package domain

import "errors"

// Domain-level errors
var (
	ErrValidationFailed = errors.New("validation failed")
	ErrDuplicate        = errors.New("duplicate message")
	ErrAlreadyExpired   = errors.New("due time already expired")
	ErrSchedulingFailed = errors.New("scheduling failed")
	ErrLeaseTimeout     = errors.New("lease acquisition timed out")
	ErrLeaseNotHeld     = errors.New("lease not held")
	ErrHandlerFailed    = errors.New("handler failed")
	ErrMessageNotFound  = errors.New("message not found")
	ErrTopicNotFound    = errors.New("topic not found")
	ErrPoolSaturated    = errors.New("worker pool saturated")
	ErrPoolShutdown     = errors.New("worker pool is shut down")
	ErrQueueClosed      = errors.New("queue is closed")
	ErrDatabaseError    = errors.New("database error")
)

// ErrorCode maps an error onto the external error codes of the enqueue API.
// Unknown errors map to "INTERNAL".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicate):
		return "DUPLICATE"
	case errors.Is(err, ErrAlreadyExpired):
		return "ALREADY_EXPIRED"
	case errors.Is(err, ErrSchedulingFailed):
		return "SCHEDULING_FAILED"
	case errors.Is(err, ErrValidationFailed):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrTopicNotFound):
		return "TOPIC_NOT_FOUND"
	case errors.Is(err, ErrMessageNotFound):
		return "NOT_FOUND"
	}
	return "INTERNAL"
}
