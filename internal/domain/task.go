package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a manga generation task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending         TaskStatus = "PENDING"
	TaskStatusProcessing      TaskStatus = "PROCESSING"
	TaskStatusSceneGeneration TaskStatus = "SCENE_GENERATION"
	TaskStatusImageGeneration TaskStatus = "IMAGE_GENERATION"
	TaskStatusCompleted       TaskStatus = "COMPLETED"
	TaskStatusFailed          TaskStatus = "FAILED"
	TaskStatusCancelled       TaskStatus = "CANCELLED"
)

// Story and scene bounds enforced at task creation.
const (
	MinStoryLength   = 50
	MaxStoryLength   = 10000
	MinScenes        = 1
	MaxScenes        = 10
	DefaultNumScenes = 5
)

// ActiveTaskStatuses are the statuses a worker holds while generating.
// Tasks stuck in one of these are reclaimed by the maintenance sweeper.
var ActiveTaskStatuses = []TaskStatus{
	TaskStatusProcessing,
	TaskStatusSceneGeneration,
	TaskStatusImageGeneration,
}

// FinishedTaskStatuses are the terminal statuses eligible for retention cleanup.
var FinishedTaskStatuses = []TaskStatus{
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// IsValid reports whether s is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusSceneGeneration,
		TaskStatusImageGeneration, TaskStatusCompleted, TaskStatusFailed,
		TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are expected from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsActive reports whether a worker is currently generating in status s.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusProcessing || s == TaskStatusSceneGeneration ||
		s == TaskStatusImageGeneration
}

// StyleParameters is the opaque bag of style choices passed to prompt
// construction. Known keys are listed in StyleKeys; other keys are kept.
type StyleParameters map[string]string

// StyleKeys lists the style options understood by the prompt builder, in
// the order they are rendered.
var StyleKeys = []string{
	"art_style",
	"mood",
	"color_palette",
	"character_style",
	"line_style",
	"composition",
	"additional_notes",
}

// Get returns the value for key, treating blanks and "None" as unset.
func (p StyleParameters) Get(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" || v == "None" {
		return "", false
	}
	return v, true
}

// GenerationParameters holds the user's request options for a task.
type GenerationParameters struct {
	NumScenes int             `json:"num_scenes"`
	Style     StyleParameters `json:"style,omitempty"`
}

// MangaTask represents one end-to-end story-to-panels generation job.
type MangaTask struct {
	ID           uuid.UUID            `json:"id"`
	SessionID    string               `json:"user_session_id"`
	Status       TaskStatus           `json:"status"`
	StoryText    string               `json:"story_text"`
	Parameters   GenerationParameters `json:"parameters"`
	Progress     int                  `json:"progress"`
	TotalPanels  int                  `json:"total_panels"`
	CurrentPanel int                  `json:"current_panel"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
}

// NewMangaTask creates a pending task for the given session and story.
// A zero numScenes selects DefaultNumScenes.
func NewMangaTask(sessionID, story string, numScenes int, style StyleParameters) (*MangaTask, error) {
	if numScenes == 0 {
		numScenes = DefaultNumScenes
	}
	now := time.Now().UTC()
	task := &MangaTask{
		ID:        uuid.New(),
		SessionID: sessionID,
		Status:    TaskStatusPending,
		StoryText: strings.TrimSpace(story),
		Parameters: GenerationParameters{
			NumScenes: numScenes,
			Style:     style,
		},
		TotalPanels: numScenes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// ValidateStory checks the story text against the length bounds.
func ValidateStory(story string) error {
	trimmed := strings.TrimSpace(story)
	if trimmed == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrStoryEmpty)
	}
	n := utf8.RuneCountInString(trimmed)
	if n < MinStoryLength {
		return fmt.Errorf("%w: %w: need at least %d characters", ErrValidation, ErrStoryTooShort, MinStoryLength)
	}
	if n > MaxStoryLength {
		return fmt.Errorf("%w: %w: at most %d characters allowed", ErrValidation, ErrStoryTooLong, MaxStoryLength)
	}
	return nil
}

// ValidateSceneCount checks that n is within MinScenes..MaxScenes.
func ValidateSceneCount(n int) error {
	if n < MinScenes || n > MaxScenes {
		return fmt.Errorf("%w: %w: must be between %d and %d", ErrValidation, ErrInvalidSceneCount, MinScenes, MaxScenes)
	}
	return nil
}

// Validate checks if the MangaTask has valid data.
func (t *MangaTask) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidID)
	}
	if strings.TrimSpace(t.SessionID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptySessionID)
	}
	if err := ValidateStory(t.StoryText); err != nil {
		return err
	}
	if err := ValidateSceneCount(t.Parameters.NumScenes); err != nil {
		return err
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidTaskStatus, t.Status)
	}
	return nil
}

// SetStatus moves the task into a non-terminal working status.
func (t *MangaTask) SetStatus(status TaskStatus) error {
	if !status.IsValid() {
		return ErrInvalidTaskStatus
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, t.Status)
	}
	t.Status = status
	return nil
}

// SetProgress records p, clamped to 0..100. Progress never moves backwards.
func (t *MangaTask) SetProgress(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > t.Progress {
		t.Progress = p
	}
}

// Complete marks the task finished at now. It returns ErrTaskTerminal for
// a task that already reached a terminal state.
func (t *MangaTask) Complete(now time.Time) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, t.Status)
	}
	t.Status = TaskStatusCompleted
	t.SetProgress(100)
	completed := now.UTC()
	t.CompletedAt = &completed
	return nil
}

// Fail marks the task failed with a human-readable message.
func (t *MangaTask) Fail(message string) {
	t.Status = TaskStatusFailed
	t.ErrorMessage = &message
}

// CanCancel reports whether an explicit cancel request may be applied.
// Terminal tasks, including cancelled ones, refuse it.
func (t *MangaTask) CanCancel() bool {
	return !t.Status.IsTerminal()
}

// Cancel marks the task cancelled. It returns ErrTaskTerminal when the task
// is already terminal.
func (t *MangaTask) Cancel(message string) error {
	if !t.CanCancel() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, t.Status)
	}
	t.Status = TaskStatusCancelled
	t.ErrorMessage = &message
	return nil
}

// PanelProgress returns the progress percentage reported when panel index i
// (zero-based) of total begins rendering.
func PanelProgress(i, total int) int {
	if total <= 0 {
		return 20
	}
	return 20 + (70*i)/total
}

// StoryPreview returns the first n runes of the story, with an ellipsis
// when it was truncated.
func (t *MangaTask) StoryPreview(n int) string {
	if utf8.RuneCountInString(t.StoryText) <= n {
		return t.StoryText
	}
	runes := []rune(t.StoryText)
	return string(runes[:n]) + "..."
}
