package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/manga-api/internal/domain"
)

// Frame types sent to clients.
const (
	TypeConnectionEstablished = "connection_established"
	TypeHeartbeat             = "heartbeat"
	TypeProgressUpdate        = "progress_update"
	TypePong                  = "pong"
	TypeSubscribed            = "subscribed"
	TypeUnsubscribed          = "unsubscribed"
	TypeConnectionInfo        = "connection_info"
	TypeError                 = "error"
	TypeAdminStats            = "admin_stats"
)

// Control messages accepted from clients.
const (
	MsgPing              = "ping"
	MsgSubscribeTask     = "subscribe_task"
	MsgUnsubscribeTask   = "unsubscribe_task"
	MsgGetConnectionInfo = "get_connection_info"
)

// Statuses carried by regeneration updates, in addition to the task statuses.
const (
	StatusRegenerating       = "REGENERATING"
	StatusPanelRegenerated   = "PANEL_REGENERATED"
	StatusRegenerationFailed = "REGENERATION_FAILED"
)

// Update is one progress event for a task.
type Update struct {
	TaskID             string                `json:"task_id"`
	Status             string                `json:"status"`
	Progress           int                   `json:"progress"`
	Message            string                `json:"message,omitempty"`
	CurrentPanel       int                   `json:"current_panel"`
	TotalPanels        int                   `json:"total_panels"`
	Panels             []domain.PanelSummary `json:"panels,omitempty"`
	Error              string                `json:"error,omitempty"`
	PanelNumber        int                   `json:"panel_number,omitempty"`
	RegeneratedPanelID string                `json:"regenerated_panel_id,omitempty"`
	ImageURL           string                `json:"image_url,omitempty"`
	Version            int                   `json:"version,omitempty"`
}

// TaskUpdate builds the update describing task's current state.
func TaskUpdate(task *domain.MangaTask, message string) Update {
	u := Update{
		TaskID:       task.ID.String(),
		Status:       string(task.Status),
		Progress:     task.Progress,
		Message:      message,
		CurrentPanel: task.CurrentPanel,
		TotalPanels:  task.TotalPanels,
	}
	if task.ErrorMessage != nil {
		u.Error = *task.ErrorMessage
	}
	return u
}

// Publisher is how workers report progress. Implementations deliver at most
// once and never block a worker for long.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, update Update) error
}

// NopPublisher discards updates.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, Update) error { return nil }

// Frame is the envelope of every server-to-client message.
type Frame map[string]any

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func progressFrame(u Update, now time.Time) Frame {
	return Frame{"type": TypeProgressUpdate, "data": u, "timestamp": timestamp(now)}
}

func welcomeFrame(sessionID string, now time.Time) Frame {
	return Frame{
		"type":       TypeConnectionEstablished,
		"session_id": sessionID,
		"message":    "Connected to progress channel",
		"timestamp":  timestamp(now),
	}
}

func heartbeatFrame(now time.Time) Frame {
	return Frame{"type": TypeHeartbeat, "timestamp": timestamp(now)}
}

func errorFrame(message string) Frame {
	return Frame{"type": TypeError, "message": message}
}

// clientMessage is a control message received from a client.
type clientMessage struct {
	Type      string          `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// AdminStats is the payload of admin_stats frames.
type AdminStats struct {
	TotalConnections int                    `json:"total_connections"`
	TotalSessions    int                    `json:"total_sessions"`
	Sessions         map[string]int         `json:"sessions"`
	Tasks            *domain.TaskStatistics `json:"tasks,omitempty"`
}
