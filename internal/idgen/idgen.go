// Package idgen produces globally unique message IDs.
package idgen

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Generator returns a new unique ID on every call
type Generator interface {
	NextID() string
}

// UUIDGenerator issues time-ordered UUIDv7 strings
type UUIDGenerator struct{}

// NextID returns a UUIDv7, falling back to v4 if the clock source fails
func (UUIDGenerator) NextID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

const (
	workerBits   = 10
	sequenceBits = 12
	maxWorkerID  = -1 ^ (-1 << workerBits)
	maxSequence  = -1 ^ (-1 << sequenceBits)
)

// snowflakeEpoch is 2024-01-01T00:00:00Z
var snowflakeEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SnowflakeGenerator issues 63-bit decimal IDs: 41 bits of milliseconds since the
// epoch, 10 bits of worker ID and 12 bits of per-millisecond sequence.
type SnowflakeGenerator struct {
	mu       sync.Mutex
	workerID int64
	lastMs   int64
	sequence int64
	now      func() time.Time
}

// NewSnowflakeGenerator creates a generator for workerID (0..1023)
func NewSnowflakeGenerator(workerID int64) (*SnowflakeGenerator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id %d out of range [0, %d]", workerID, maxWorkerID)
	}
	return &SnowflakeGenerator{workerID: workerID, now: time.Now}, nil
}

// NextID returns the next ID, spinning into the next millisecond when the sequence wraps
func (g *SnowflakeGenerator) NextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().Sub(snowflakeEpoch).Milliseconds()
	if ms < g.lastMs {
		// clock moved backwards; keep issuing from the last seen millisecond
		ms = g.lastMs
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ms <= g.lastMs {
				time.Sleep(100 * time.Microsecond)
				ms = g.now().Sub(snowflakeEpoch).Milliseconds()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	id := ms<<(workerBits+sequenceBits) | g.workerID<<sequenceBits | g.sequence
	return strconv.FormatInt(id, 10)
}

// AssignWorkerID claims a worker ID for appName from a shared Redis counter
func AssignWorkerID(ctx context.Context, client *redis.Client, appName string) (int64, error) {
	n, err := client.Incr(ctx, "snowflake:workerId-"+appName).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to assign snowflake worker id: %w", err)
	}
	return n & maxWorkerID, nil
}
