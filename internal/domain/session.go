package domain

import (
	"strings"
	"time"
)

// Session groups the tasks and live connections of one client instance.
type Session struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Metadata     map[string]any `json:"session_metadata,omitempty"`
}

// ValidateSessionID rejects blank or oversized session identifiers.
func ValidateSessionID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 255 {
		return ErrEmptySessionID
	}
	return nil
}

// TaskStatistics is a point-in-time summary produced by the maintenance sweeper.
type TaskStatistics struct {
	StatusCounts map[TaskStatus]int64 `json:"status_counts"`
	RecentTasks  int64                `json:"recent_tasks_24h"`
	TotalPanels  int64                `json:"total_panels"`
	TotalTasks   int64                `json:"total_tasks"`
	GeneratedAt  time.Time            `json:"generated_at"`
}
