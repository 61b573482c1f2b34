package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter dispatches events to handlers registered in process.
// Handlers registered for a specific type take precedence over the ones
// registered for every type.
type InMemoryEventEmitter struct {
	handlers map[string][]EventHandler
	fallback []EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		handlers: make(map[string][]EventHandler),
		logger:   logger.With("component", "in_memory_event_emitter"),
	}
}

// RegisterHandler adds a handler that receives every event without a
// type-specific handler.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallback = append(e.fallback, handler)
	e.logger.Debug("registered event handler", "handler_count", len(e.fallback))
}

// RegisterTypeHandler adds a handler for events of eventType only.
func (e *InMemoryEventEmitter) RegisterTypeHandler(eventType string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = append(e.handlers[eventType], handler)
	e.logger.Debug("registered event handler",
		"event_type", eventType,
		"handler_count", len(e.handlers[eventType]))
}

// EmitEvent delivers event to its handlers.
// Every handler sees the event even if an earlier one fails; the first error
// is returned. An event nobody handles is an ErrUnknownEventType.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskRequestEvent) error {
	e.mu.RLock()
	selected := e.handlers[event.Type]
	if len(selected) == 0 {
		selected = e.fallback
	}
	handlers := make([]EventHandler, len(selected))
	copy(handlers, selected)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Warn("no handlers registered for event",
			"event_id", event.ID,
			"event_type", event.Type)
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	e.logger.Debug("emitting event",
		"event_id", event.ID,
		"event_type", event.Type,
		"handler_count", len(handlers))

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
