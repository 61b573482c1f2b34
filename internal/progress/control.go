package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/manga-api/internal/domain"
)

// HandleMessage answers one control message received from c.
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.Send(c, errorFrame("Invalid JSON format"))
		return
	}

	switch msg.Type {
	case MsgPing:
		h.Send(c, Frame{"type": TypePong, "timestamp": msg.Timestamp})

	case MsgSubscribeTask:
		c.subMu.Lock()
		c.subscriptions[msg.TaskID] = struct{}{}
		c.subMu.Unlock()
		h.logger.Info("session subscribed to task", "session_id", c.sessionID, "task_id", msg.TaskID)
		h.Send(c, Frame{
			"type":    TypeSubscribed,
			"task_id": msg.TaskID,
			"message": "Subscribed to task " + msg.TaskID,
		})

	case MsgUnsubscribeTask:
		c.subMu.Lock()
		delete(c.subscriptions, msg.TaskID)
		c.subMu.Unlock()
		h.Send(c, Frame{
			"type":    TypeUnsubscribed,
			"task_id": msg.TaskID,
			"message": "Unsubscribed from task " + msg.TaskID,
		})

	case MsgGetConnectionInfo:
		h.Send(c, Frame{
			"type":                TypeConnectionInfo,
			"session_id":          c.sessionID,
			"total_connections":   h.ConnectionCount(),
			"session_connections": h.SessionConnectionCount(c.sessionID),
		})

	default:
		h.Send(c, errorFrame("Unknown message type: "+msg.Type))
	}
}

// StatsFunc returns the latest task statistics, or nil when none are available.
type StatsFunc func(ctx context.Context) (*domain.TaskStatistics, error)

// Stats returns the current connection statistics combined with stats.
func (h *Hub) Stats(ctx context.Context, stats StatsFunc) AdminStats {
	out := AdminStats{
		Sessions: h.Sessions(),
	}
	for _, n := range out.Sessions {
		out.TotalConnections += n
	}
	out.TotalSessions = len(out.Sessions)
	if stats != nil {
		ts, err := stats(ctx)
		if err != nil {
			h.logger.Warn("failed to load task statistics", "error", err)
		} else {
			out.Tasks = ts
		}
	}
	return out
}

// RunAdminStats sends admin_stats frames to c every interval, starting
// immediately, until ctx ends or c disconnects.
func (h *Hub) RunAdminStats(ctx context.Context, c *Client, interval time.Duration, stats StatsFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		frame := Frame{
			"type":      TypeAdminStats,
			"data":      h.Stats(ctx, stats),
			"timestamp": timestamp(h.now()),
		}
		if !h.Send(c, frame) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
		}
	}
}
