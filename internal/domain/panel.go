package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PanelStatus represents the rendering state of a single panel
type PanelStatus string

// Possible panel status values
const (
	PanelStatusPending      PanelStatus = "PENDING"
	PanelStatusProcessing   PanelStatus = "PROCESSING"
	PanelStatusCompleted    PanelStatus = "COMPLETED"
	PanelStatusFailed       PanelStatus = "FAILED"
	PanelStatusRegenerating PanelStatus = "REGENERATING"
)

// IsValid reports whether s is a known panel status.
func (s PanelStatus) IsValid() bool {
	switch s {
	case PanelStatusPending, PanelStatusProcessing, PanelStatusCompleted,
		PanelStatusFailed, PanelStatusRegenerating:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the panel has a final outcome.
func (s PanelStatus) IsTerminal() bool {
	return s == PanelStatusCompleted || s == PanelStatusFailed
}

// Panel represents one rendering attempt of a scene. Regenerations are new
// rows linked to their original through OriginalPanelID.
type Panel struct {
	ID                  uuid.UUID   `json:"id"`
	TaskID              uuid.UUID   `json:"task_id"`
	PanelNumber         int         `json:"panel_number"`
	SceneDescription    string      `json:"scene_description"`
	ImageURL            *string     `json:"image_url,omitempty"`
	ImagePath           *string     `json:"image_path,omitempty"`
	Version             int         `json:"version"`
	Status              PanelStatus `json:"status"`
	CreatedAt           time.Time   `json:"created_at"`
	OriginalPanelID     *uuid.UUID  `json:"original_panel_id,omitempty"`
	RegenerationRequest *string     `json:"regeneration_request,omitempty"`
	IsRegenerated       bool        `json:"is_regenerated"`
}

// NewPanel creates a pending original panel for a scene of a task.
func NewPanel(taskID uuid.UUID, panelNumber int, scene string) (*Panel, error) {
	panel := &Panel{
		ID:               uuid.New(),
		TaskID:           taskID,
		PanelNumber:      panelNumber,
		SceneDescription: scene,
		Version:          1,
		Status:           PanelStatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := panel.Validate(); err != nil {
		return nil, err
	}
	return panel, nil
}

// NewRegeneratedPanel creates the pending row for a regeneration of original.
// Only original panels may be regenerated; version is assigned by the caller.
func NewRegeneratedPanel(original *Panel, request string, version int) (*Panel, error) {
	if original == nil {
		return nil, fmt.Errorf("%w: original panel is required", ErrValidation)
	}
	if original.IsRegenerated {
		return nil, ErrRegenerateRegenerated
	}
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrEmptyModification)
	}

	originalID := original.ID
	panel := &Panel{
		ID:                  uuid.New(),
		TaskID:              original.TaskID,
		PanelNumber:         original.PanelNumber,
		SceneDescription:    original.SceneDescription,
		Version:             version,
		Status:              PanelStatusPending,
		CreatedAt:           time.Now().UTC(),
		OriginalPanelID:     &originalID,
		RegenerationRequest: &request,
		IsRegenerated:       true,
	}
	if err := panel.Validate(); err != nil {
		return nil, err
	}
	return panel, nil
}

// Validate checks if the Panel has valid data.
func (p *Panel) Validate() error {
	if p.ID == uuid.Nil || p.TaskID == uuid.Nil {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidID)
	}
	if p.PanelNumber < 1 {
		return fmt.Errorf("%w: %w: %d", ErrValidation, ErrInvalidPanelNumber, p.PanelNumber)
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidPanelStatus, p.Status)
	}
	if p.IsRegenerated && p.OriginalPanelID == nil {
		return fmt.Errorf("%w: regenerated panel requires an original", ErrValidation)
	}
	return nil
}

// MarkCompleted records the stored artifact and completes the panel.
func (p *Panel) MarkCompleted(url, path string) {
	p.ImageURL = &url
	p.ImagePath = &path
	p.Status = PanelStatusCompleted
}

// PanelSummary is the client-facing view of a panel used in progress
// events and status responses.
type PanelSummary struct {
	ID               uuid.UUID   `json:"id"`
	PanelNumber      int         `json:"panel_number"`
	SceneDescription string      `json:"scene_description"`
	ImageURL         string      `json:"image_url,omitempty"`
	Status           PanelStatus `json:"status"`
	Version          int         `json:"version"`
	IsRegenerated    bool        `json:"is_regenerated"`
}

// Summary builds the PanelSummary of p.
func (p *Panel) Summary() PanelSummary {
	s := PanelSummary{
		ID:               p.ID,
		PanelNumber:      p.PanelNumber,
		SceneDescription: p.SceneDescription,
		Status:           p.Status,
		Version:          p.Version,
		IsRegenerated:    p.IsRegenerated,
	}
	if p.ImageURL != nil {
		s.ImageURL = *p.ImageURL
	}
	return s
}
