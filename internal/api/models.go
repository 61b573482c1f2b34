package api

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/service"
)

// Common request/response structures

// GenerateMangaRequest defines the payload for the generation endpoints.
// The multipart route fills it from form fields and the uploaded file.
type GenerateMangaRequest struct {
	StoryText       string `json:"story_text"                 validate:"required"`
	SessionID       string `json:"session_id,omitempty"       validate:"max=255"`
	NumScenes       int    `json:"num_scenes,omitempty"       validate:"gte=0,lte=10"`
	ArtStyle        string `json:"art_style,omitempty"`
	Mood            string `json:"mood,omitempty"`
	ColorPalette    string `json:"color_palette,omitempty"`
	CharacterStyle  string `json:"character_style,omitempty"`
	LineStyle       string `json:"line_style,omitempty"`
	Composition     string `json:"composition,omitempty"`
	AdditionalNotes string `json:"additional_notes,omitempty" validate:"max=2000"`
}

// Style collects the non-empty style options of the request.
func (r GenerateMangaRequest) Style() domain.StyleParameters {
	style := domain.StyleParameters{}
	for key, value := range map[string]string{
		"art_style":        r.ArtStyle,
		"mood":             r.Mood,
		"color_palette":    r.ColorPalette,
		"character_style":  r.CharacterStyle,
		"line_style":       r.LineStyle,
		"composition":      r.Composition,
		"additional_notes": r.AdditionalNotes,
	} {
		if v := strings.TrimSpace(value); v != "" {
			style[key] = v
		}
	}
	if len(style) == 0 {
		return nil
	}
	return style
}

// TaskCreatedResponse is returned by the generation endpoints.
type TaskCreatedResponse struct {
	TaskID    uuid.UUID `json:"task_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
}

// TaskStatusResponse describes a task and its panels.
type TaskStatusResponse struct {
	TaskID       uuid.UUID             `json:"task_id"`
	Status       string                `json:"status"`
	Progress     int                   `json:"progress"`
	CurrentPanel int                   `json:"current_panel"`
	TotalPanels  int                   `json:"total_panels"`
	Panels       []domain.PanelSummary `json:"panels"`
	ErrorMessage *string               `json:"error_message"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	CompletedAt  *time.Time            `json:"completed_at"`
}

// TaskListItem is one entry of the task list.
type TaskListItem struct {
	TaskID       uuid.UUID  `json:"task_id"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	StoryPreview string     `json:"story_preview"`
	TotalPanels  int        `json:"total_panels"`
	PanelCount   int        `json:"panel_count"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TaskListResponse is a page of a session's tasks.
type TaskListResponse struct {
	SessionID string         `json:"session_id"`
	Tasks     []TaskListItem `json:"tasks"`
	Limit     int            `json:"limit"`
	Offset    int            `json:"offset"`
}

// RegenerationResponse acknowledges a regeneration request.
type RegenerationResponse struct {
	TaskID             uuid.UUID `json:"task_id"`
	PanelNumber        int       `json:"panel_number"`
	RegeneratedPanelID uuid.UUID `json:"regenerated_panel_id"`
	ReplaceOriginal    bool      `json:"replace_original"`
	Message            string    `json:"message"`
}

// CancelResponse acknowledges a cancellation.
type CancelResponse struct {
	TaskID  uuid.UUID `json:"task_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// MaintenanceResponse acknowledges a queued maintenance job.
type MaintenanceResponse struct {
	Job     string    `json:"job"`
	JobID   uuid.UUID `json:"job_id"`
	Message string    `json:"message"`
}

// HealthResponse reports API dependencies.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	QueueMode string `json:"queue_mode"`
}

func taskStatusResponse(d *service.TaskDetails) TaskStatusResponse {
	t := d.Task
	panels := make([]domain.PanelSummary, 0, len(d.Panels))
	for _, p := range d.Panels {
		panels = append(panels, p.Summary())
	}
	return TaskStatusResponse{
		TaskID:       t.ID,
		Status:       string(t.Status),
		Progress:     t.Progress,
		CurrentPanel: t.CurrentPanel,
		TotalPanels:  t.TotalPanels,
		Panels:       panels,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

func taskListItem(item service.TaskListItem) TaskListItem {
	t := item.Task
	return TaskListItem{
		TaskID:       t.ID,
		Status:       string(t.Status),
		Progress:     t.Progress,
		StoryPreview: t.StoryPreview(service.StoryPreviewLength),
		TotalPanels:  t.TotalPanels,
		PanelCount:   item.PanelCount,
		CreatedAt:    t.CreatedAt,
		CompletedAt:  t.CompletedAt,
	}
}
