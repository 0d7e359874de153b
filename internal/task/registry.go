package task

import (
	"log/slog"
	"sync"
)

// Registry maps task type names to their handler functions. Registration is
// last-wins: registering a type that already has a handler silently replaces
// it, which keeps redeploys and tests simple.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With("component", "task_registry"),
	}
}

// Register associates a handler with a type name, overwriting any prior
// registration for that name.
func (r *Registry) Register(taskType string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		r.logger.Debug("replacing handler registration", "task_type", taskType)
	}
	r.handlers[taskType] = handler
}

// Resolve looks up the handler for a type name. The second return value
// distinguishes "not found" so the orchestrator can dead-letter cleanly.
func (r *Registry) Resolve(taskType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	return handler, ok
}
