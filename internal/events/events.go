package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job types understood by the workers.
const (
	TypeMangaGeneration   = "manga_generation"
	TypePanelRegeneration = "panel_regeneration"
	TypeMaintenance       = "maintenance"
)

// ErrUnknownEventType is returned when no handler is registered for an event type.
var ErrUnknownEventType = errors.New("unknown event type")

// TaskRequestEvent is a request to run one background job.
// It is also the wire format of queued jobs.
type TaskRequestEvent struct {
	// ID identifies the job across retries and redeliveries.
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants.
	Type string `json:"type"`

	// Payload is the job-specific JSON document.
	Payload json.RawMessage `json:"payload"`

	// Attempt counts deliveries, starting at 1.
	Attempt int `json:"attempt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into v.
func (e *TaskRequestEvent) UnmarshalPayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has an empty payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}

// NewTaskRequestEvent creates an event of the given type with payload encoded as JSON.
func NewTaskRequestEvent(eventType string, payload any) (*TaskRequestEvent, error) {
	if eventType == "" {
		return nil, errors.New("event type is required")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	return &TaskRequestEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		Attempt:   1,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// MangaGenerationPayload starts the generation of a task's panels.
type MangaGenerationPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// PanelRegenerationPayload renders a new version of one panel.
type PanelRegenerationPayload struct {
	TaskID              uuid.UUID `json:"task_id"`
	PanelNumber         int       `json:"panel_number"`
	RegeneratedPanelID  uuid.UUID `json:"regenerated_panel_id"`
	ModificationRequest string    `json:"modification_request"`
	ReferenceImageKey   string    `json:"reference_image_key,omitempty"`
	ReplaceOriginal     bool      `json:"replace_original"`
	SessionID           string    `json:"session_id"`
}

// MaintenancePayload names the sweeper job to run.
type MaintenancePayload struct {
	Job string `json:"job"`
}

// EventHandler processes events.
type EventHandler interface {
	// HandleEvent processes the given event. An error means the event
	// was not accepted for execution.
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *TaskRequestEvent) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	return f(ctx, event)
}

// EventEmitter publishes events to their handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}
