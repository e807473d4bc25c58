package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only release if we own the lock (check value matches)
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLocker provides leases shared by every instance connected to the same Redis
type RedisLocker struct {
	client        *redis.Client
	instanceID    string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

// RedisLockerConfig configures a RedisLocker
type RedisLockerConfig struct {
	// InstanceID prefixes every owner token so holders are identifiable in Redis
	InstanceID string

	// TTL is the watchdog lease time
	TTL time.Duration

	// RetryInterval is the pause between SET NX attempts
	RetryInterval time.Duration
}

// NewRedisLocker creates a lock manager on client
func NewRedisLocker(client *redis.Client, config RedisLockerConfig, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	return &RedisLocker{
		client:        client,
		instanceID:    config.InstanceID,
		ttl:           config.TTL,
		retryInterval: config.RetryInterval,
		logger:        logger.With("component", "redis_locker"),
	}
}

// Acquire attempts to take the named lease until wait elapses
func (rl *RedisLocker) Acquire(ctx context.Context, name string, wait time.Duration) (*Lease, error) {
	token := fmt.Sprintf("%s:%s", rl.instanceID, uuid.NewString())
	deadline := time.Now().Add(wait)

	for {
		// Try to set lock with NX (only if not exists) and PX (expiration)
		success, err := rl.client.SetNX(ctx, name, token, rl.ttl).Result()
		if err != nil {
			rl.logger.Warn("Failed to acquire lock", "lock", name, "error", err)
		} else if success {
			l := newLease(name, token, rl)
			go l.watchdog(rl.ttl, func(err error) {
				rl.logger.Warn("Failed to renew lock", "lock", name, "error", err)
			})
			rl.logger.Debug("Acquired lock", "lock", name, "token", token)
			return l, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !waitRetry(ctx, deadline, rl.retryInterval) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrLeaseTimeout, name)
		}
	}
}

// IsHeld reports whether the lease key exists
func (rl *RedisLocker) IsHeld(ctx context.Context, name string) (bool, error) {
	n, err := rl.client.Exists(ctx, name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock: %w", err)
	}
	return n > 0, nil
}

func (rl *RedisLocker) renew(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	result, err := renewScript.Run(ctx, rl.client, []string{name}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock: %w", err)
	}
	if result == 0 {
		rl.logger.Warn("Lock lost before renewal", "lock", name, "token", token)
	}
	return result == 1, nil
}

func (rl *RedisLocker) release(ctx context.Context, name, token string) (bool, error) {
	result, err := releaseScript.Run(ctx, rl.client, []string{name}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}

	if result == 1 {
		rl.logger.Debug("Released lock", "lock", name)
	} else {
		rl.logger.Warn("Lock was not owned by this instance or already released",
			"lock", name,
			"token", token,
		)
	}
	return result == 1, nil
}
