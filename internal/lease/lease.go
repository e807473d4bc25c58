// Package lease provides named, expiring, owner-checked mutual exclusion shared by every
// service instance. A lease held by a live process is renewed by a watchdog; a lease whose
// holder died expires after its TTL.
package lease

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
)

const (
	// DefaultTTL is the lease lifetime without renewal
	DefaultTTL = 30 * time.Second

	// DefaultRetryInterval is the pause between acquisition attempts
	DefaultRetryInterval = 50 * time.Millisecond
)

// Locker acquires named leases
type Locker interface {
	// Acquire blocks up to wait for the named lease.
	// Returns domain.ErrLeaseTimeout when it stays held by someone else.
	Acquire(ctx context.Context, name string, wait time.Duration) (*Lease, error)

	// IsHeld reports whether anyone currently holds the named lease
	IsHeld(ctx context.Context, name string) (bool, error)
}

// ProcessorLockName is the per-message processing lease name
func ProcessorLockName(queueName, messageID string) string {
	return fmt.Sprintf("delayed_queue_processor_lock:%s:%s", queueName, messageID)
}

// DedupLockName is the lease held across a topic's dedup check and insert
func DedupLockName(topic, dedupKey string) string {
	return fmt.Sprintf("delayed_queue_dedup_lock:%s:%s", topic, dedupKey)
}

// backend is what a Lease needs from its Locker
type backend interface {
	renew(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, name, token string) (bool, error)
}

// Lease is one acquisition of a named lock.
// Release is idempotent and safe to call from a deferred cleanup.
type Lease struct {
	name    string
	token   string
	backend backend

	held     atomic.Bool
	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newLease(name, token string, b backend) *Lease {
	l := &Lease{
		name:    name,
		token:   token,
		backend: b,
		lost:    make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	l.held.Store(true)
	return l
}

// Name returns the lease name
func (l *Lease) Name() string { return l.name }

// Token returns the owner token of this acquisition
func (l *Lease) Token() string { return l.token }

// Held reports whether this acquisition still owns the lease
func (l *Lease) Held() bool { return l.held.Load() }

// Lost is closed when the watchdog finds the lease was taken over or expired
func (l *Lease) Lost() <-chan struct{} { return l.lost }

// Release gives the lease up if still held and stops its watchdog.
// It returns domain.ErrLeaseNotHeld when the lease expired or was taken over first.
func (l *Lease) Release(ctx context.Context) error {
	l.stopWatchdog()
	if !l.held.Swap(false) {
		select {
		case <-l.lost:
			return fmt.Errorf("%w: %s", domain.ErrLeaseNotHeld, l.name)
		default:
			return nil
		}
	}

	ok, err := l.backend.release(ctx, l.name, l.token)
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.name, err)
	}
	if !ok {
		l.markLost()
		return fmt.Errorf("%w: %s", domain.ErrLeaseNotHeld, l.name)
	}
	return nil
}

func (l *Lease) markLost() {
	l.held.Store(false)
	l.lostOnce.Do(func() { close(l.lost) })
}

func (l *Lease) stopWatchdog() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// watchdog renews the lease every ttl/3 until released or lost
func (l *Lease) watchdog(ttl time.Duration, onError func(error)) {
	defer close(l.done)

	interval := ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := l.backend.renew(ctx, l.name, l.token, ttl)
			cancel()
			if err != nil {
				// transient, the key survives until ttl
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !ok {
				l.markLost()
				return
			}
		}
	}
}

// waitRetry sleeps for interval or until ctx/deadline ends; false means stop trying
func waitRetry(ctx context.Context, deadline time.Time, interval time.Duration) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(min(remaining, interval)):
		return true
	}
}
