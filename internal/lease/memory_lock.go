package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/google/uuid"
)

type memoryHold struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is a process-local Locker with the same contract as RedisLocker
type MemoryLocker struct {
	mu            sync.Mutex
	holds         map[string]memoryHold
	ttl           time.Duration
	retryInterval time.Duration
	now           func() time.Time
}

// NewMemoryLocker creates an in-process lock manager; ttl <= 0 means DefaultTTL
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{
		holds:         make(map[string]memoryHold),
		ttl:           ttl,
		retryInterval: 5 * time.Millisecond,
		now:           time.Now,
	}
}

// Acquire takes the named lease, waiting up to wait
func (ml *MemoryLocker) Acquire(ctx context.Context, name string, wait time.Duration) (*Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		if ml.tryAcquire(name, token) {
			l := newLease(name, token, ml)
			go l.watchdog(ml.ttl, nil)
			return l, nil
		}

		if !waitRetry(ctx, deadline, ml.retryInterval) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrLeaseTimeout, name)
		}
	}
}

// IsHeld reports whether an unexpired hold exists
func (ml *MemoryLocker) IsHeld(ctx context.Context, name string) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	h, ok := ml.holds[name]
	return ok && ml.now().Before(h.expiresAt), nil
}

// Expire drops a hold as if its owner died and the TTL ran out
func (ml *MemoryLocker) Expire(name string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	delete(ml.holds, name)
}

func (ml *MemoryLocker) tryAcquire(name, token string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	if h, ok := ml.holds[name]; ok && now.Before(h.expiresAt) {
		return false
	}
	ml.holds[name] = memoryHold{token: token, expiresAt: now.Add(ml.ttl)}
	return true
}

func (ml *MemoryLocker) renew(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	h, ok := ml.holds[name]
	if !ok || h.token != token {
		return false, nil
	}
	h.expiresAt = ml.now().Add(ttl)
	ml.holds[name] = h
	return true, nil
}

func (ml *MemoryLocker) release(ctx context.Context, name, token string) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	h, ok := ml.holds[name]
	if !ok || h.token != token {
		return false, nil
	}
	delete(ml.holds, name)
	return true, nil
}
