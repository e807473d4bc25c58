package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/redis/go-redis/v9"
)

var (
	ErrRedisConnection = errors.New("redis connection failed")
)

const (
	// promoteBatch bounds the work of one promote script call
	promoteBatch = 256

	// popRetryInterval is the sleep between empty LPOPs inside PopReady
	popRetryInterval = 5 * time.Millisecond
)

// scheduleScript: due entries go straight to the ready list, others into the sorted set.
// KEYS: delayed, ready, members. ARGV: id, due ms, now ms.
var scheduleScript = redis.NewScript(`
if tonumber(ARGV[2]) <= tonumber(ARGV[3]) then
	redis.call("zrem", KEYS[1], ARGV[1])
	if redis.call("sadd", KEYS[3], ARGV[1]) == 1 then
		redis.call("rpush", KEYS[2], ARGV[1])
	end
	return 1
end
if redis.call("sismember", KEYS[3], ARGV[1]) == 1 then
	return 2
end
redis.call("zadd", KEYS[1], ARGV[2], ARGV[1])
return 0
`)

// promoteScript moves up to ARGV[2] entries scored at or below ARGV[1] to the ready list.
// Returns the number of entries taken from the sorted set.
var promoteScript = redis.NewScript(`
local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call("zrem", KEYS[1], id)
	if redis.call("sadd", KEYS[3], id) == 1 then
		redis.call("rpush", KEYS[2], id)
	end
end
return #ids
`)

// popScript: LPOP + SREM. KEYS: ready, members.
var popScript = redis.NewScript(`
local id = redis.call("lpop", KEYS[1])
if not id then
	return false
end
redis.call("srem", KEYS[2], id)
return id
`)

// pushScript appends to the ready list unless already a member.
// KEYS: delayed, ready, members. ARGV: id.
var pushScript = redis.NewScript(`
redis.call("zrem", KEYS[1], ARGV[1])
if redis.call("sadd", KEYS[3], ARGV[1]) == 1 then
	redis.call("rpush", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// removeScript drops an id from every structure. KEYS: delayed, ready, members.
var removeScript = redis.NewScript(`
redis.call("zrem", KEYS[1], ARGV[1])
if redis.call("srem", KEYS[3], ARGV[1]) == 1 then
	redis.call("lrem", KEYS[2], 0, ARGV[1])
end
return 1
`)

// NewRedisClient parses redisURL, applies poolSize and verifies the connection
func NewRedisClient(redisURL string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisConnection, err)
	}

	return client, nil
}

// queueError wraps a Redis failure, mapping a closed client to domain.ErrQueueClosed
func queueError(msg string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %s", domain.ErrQueueClosed, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// RedisDelayQueue implements DelayQueue on Redis.
//
// Layout per queue:
//
//	delayq:{queue}:delayed        ZSET  member = message ID, score = due unix ms
//	delayq:{queue}:ready          LIST  FIFO of due message IDs
//	delayq:{queue}:ready:members  SET   membership index for the ready list
//
// Every multi-key move runs as a Lua script, so concurrent instances sharing a queue
// never observe an ID in both stages or twice in the ready list.
type RedisDelayQueue struct {
	client     *redis.Client
	logger     *slog.Logger
	queueName  string
	delayedKey string
	readyKey   string
	membersKey string
	now        func() time.Time
}

// NewRedisDelayQueue creates the delay queue named queueName on client
func NewRedisDelayQueue(client *redis.Client, queueName string, logger *slog.Logger) *RedisDelayQueue {
	if logger == nil {
		logger = slog.Default()
	}

	prefix := fmt.Sprintf("delayq:%s", queueName)
	return &RedisDelayQueue{
		client:     client,
		logger:     logger.With("component", "redis_delay_queue", "queue", queueName),
		queueName:  queueName,
		delayedKey: prefix + ":delayed",
		readyKey:   prefix + ":ready",
		membersKey: prefix + ":ready:members",
		now:        time.Now,
	}
}

func (q *RedisDelayQueue) keys() []string {
	return []string{q.delayedKey, q.readyKey, q.membersKey}
}

// Schedule inserts or re-schedules a message
func (q *RedisDelayQueue) Schedule(ctx context.Context, messageID string, dueAt time.Time) error {
	res, err := scheduleScript.Run(ctx, q.client, q.keys(),
		messageID, dueAt.UnixMilli(), q.now().UnixMilli()).Int()
	if err != nil {
		return queueError("failed to schedule message", err)
	}

	q.logger.Debug("Message scheduled",
		"message_id", messageID,
		"due_at", dueAt,
		"ready", res == 1,
	)
	return nil
}

// PromoteDue moves due entries to the ready list in batches
func (q *RedisDelayQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		n, err := promoteScript.Run(ctx, q.client, q.keys(), now.UnixMilli(), promoteBatch).Int()
		if err != nil {
			return total, queueError("failed to promote due messages", err)
		}
		total += n
		if n < promoteBatch {
			return total, nil
		}
	}
}

// PopReady polls the ready list until timeout
func (q *RedisDelayQueue) PopReady(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		id, err := popScript.Run(ctx, q.client, []string{q.readyKey, q.membersKey}).Text()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", queueError("failed to pop ready message", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrNoMessage
		}

		// Interruptible sleep
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(min(remaining, popRetryInterval)):
		}
	}
}

// PushReady appends a message to the ready list unless already present
func (q *RedisDelayQueue) PushReady(ctx context.Context, messageID string) (bool, error) {
	res, err := pushScript.Run(ctx, q.client, q.keys(), messageID).Int()
	if err != nil {
		return false, queueError("failed to push ready message", err)
	}
	return res == 1, nil
}

// Contains reports membership in either stage
func (q *RedisDelayQueue) Contains(ctx context.Context, messageID string) (bool, error) {
	pipe := q.client.Pipeline()
	scoreCmd := pipe.ZScore(ctx, q.delayedKey, messageID)
	memberCmd := pipe.SIsMember(ctx, q.membersKey, messageID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, queueError("failed to check queue membership", err)
	}

	if _, err := scoreCmd.Result(); err == nil {
		return true, nil
	}
	return memberCmd.Val(), nil
}

// Remove drops a message from both stages
func (q *RedisDelayQueue) Remove(ctx context.Context, messageID string) error {
	if err := removeScript.Run(ctx, q.client, q.keys(), messageID).Err(); err != nil {
		return queueError("failed to remove message", err)
	}
	return nil
}

// Size returns the depth of both stages
func (q *RedisDelayQueue) Size(ctx context.Context) (QueueSize, error) {
	pipe := q.client.Pipeline()
	delayed := pipe.ZCard(ctx, q.delayedKey)
	ready := pipe.LLen(ctx, q.readyKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueSize{}, queueError("failed to read queue size", err)
	}
	return QueueSize{Delayed: delayed.Val(), Ready: ready.Val()}, nil
}

// Clear deletes every key of this queue
func (q *RedisDelayQueue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.keys()...).Err(); err != nil {
		return queueError("failed to clear queue", err)
	}
	q.logger.Info("Queue cleared")
	return nil
}

// Name returns the queue name
func (q *RedisDelayQueue) Name() string {
	return q.queueName
}
