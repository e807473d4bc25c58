package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/arnabghosh/delayed-queue/internal/domain"
)

// Registry maps topic names to their engines
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*TopicEngine
	logger  *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		engines: make(map[string]*TopicEngine),
		logger:  logger.With("component", "engine_registry"),
	}
}

// Register adds an engine; topic names are unique
func (r *Registry) Register(e *TopicEngine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[e.Topic()]; exists {
		return fmt.Errorf("%w: topic %q registered twice", domain.ErrValidationFailed, e.Topic())
	}
	r.engines[e.Topic()] = e
	return nil
}

// Get returns the engine of topic or domain.ErrTopicNotFound
func (r *Registry) Get(topic string) (*TopicEngine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTopicNotFound, topic)
	}
	return e, nil
}

// Topics returns the registered topic names in sorted order
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.engines))
	for t := range r.engines {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Engines returns the registered engines sorted by topic
func (r *Registry) Engines() []*TopicEngine {
	topics := r.Topics()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TopicEngine, 0, len(topics))
	for _, t := range topics {
		out = append(out, r.engines[t])
	}
	return out
}

// Enqueue routes req to the engine of req.Topic
func (r *Registry) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	e, err := r.Get(req.Topic)
	if err != nil {
		return "", err
	}
	return e.Enqueue(ctx, req)
}

// StartAll starts every engine, stopping the ones already started on failure
func (r *Registry) StartAll(ctx context.Context) error {
	engines := r.Engines()
	for i, e := range engines {
		if err := e.Start(ctx); err != nil {
			for _, started := range engines[:i] {
				started.Stop()
			}
			return err
		}
	}
	r.logger.Info("All topic engines started", "topics", len(engines))
	return nil
}

// StopAll stops every engine's dispatcher
func (r *Registry) StopAll() {
	for _, e := range r.Engines() {
		e.Stop()
	}
	r.logger.Info("All topic engines stopped")
}

// Healthy reports whether every engine is healthy
func (r *Registry) Healthy() bool {
	for _, e := range r.Engines() {
		if !e.Healthy() {
			return false
		}
	}
	return true
}

// AllStats returns the stats of every topic keyed by topic name
func (r *Registry) AllStats(ctx context.Context) (map[string]TopicStats, error) {
	out := make(map[string]TopicStats)
	for _, e := range r.Engines() {
		stats, err := e.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get stats of topic %s: %w", e.Topic(), err)
		}
		out[e.Topic()] = stats
	}
	return out, nil
}
