package topics

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/engine"
)

// Simulated work of the built-in handlers
var builtinWork = map[string]time.Duration{
	HandlerOrder:        100 * time.Millisecond,
	HandlerNotification: 50 * time.Millisecond,
	HandlerTask:         200 * time.Millisecond,
	HandlerEmail:        100 * time.Millisecond,
}

// Registry resolves handler names used in topic configs
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]engine.Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]engine.Handler)}
}

// NewDefaultRegistry registers the built-in handlers.
// simulateWork=false drops their artificial latency.
func NewDefaultRegistry(simulateWork bool, logger *slog.Logger) *Registry {
	work := func(name string) time.Duration {
		if !simulateWork {
			return 0
		}
		return builtinWork[name]
	}

	r := NewRegistry()
	r.Register(HandlerOrder, NewOrderHandler(work(HandlerOrder), logger))
	r.Register(HandlerNotification, NewNotificationHandler(work(HandlerNotification), logger))
	r.Register(HandlerTask, NewTaskHandler(work(HandlerTask), logger))
	r.Register(HandlerEmail, NewEmailHandler(work(HandlerEmail), logger))
	return r
}

// Register binds name to h, replacing any previous binding
func (r *Registry) Register(name string, h engine.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Resolve returns the handler bound to name
func (r *Registry) Resolve(name string) (engine.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown handler %q", domain.ErrValidationFailed, name)
	}
	return h, nil
}

// Names returns the registered handler names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
