package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connected(t *testing.T, hub *Hub, session string) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c, err := hub.Connect(conn, session)
	require.NoError(t, err)
	conn.next(t)
	t.Cleanup(func() { hub.Disconnect(c) })
	return c, conn
}

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	hub := testHub(HubConfig{})
	c, conn := connected(t, hub, "s1")

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, frame map[string]any)
	}{
		{
			name: "ping echoes timestamp",
			raw:  `{"type":"ping","timestamp":1712345678}`,
			check: func(t *testing.T, f map[string]any) {
				assert.Equal(t, TypePong, f["type"])
				assert.EqualValues(t, 1712345678, f["timestamp"])
			},
		},
		{
			name: "subscribe",
			raw:  `{"type":"subscribe_task","task_id":"t-1"}`,
			check: func(t *testing.T, f map[string]any) {
				assert.Equal(t, TypeSubscribed, f["type"])
				assert.Equal(t, "t-1", f["task_id"])
			},
		},
		{
			name: "unsubscribe",
			raw:  `{"type":"unsubscribe_task","task_id":"t-1"}`,
			check: func(t *testing.T, f map[string]any) {
				assert.Equal(t, TypeUnsubscribed, f["type"])
			},
		},
		{
			name: "connection info",
			raw:  `{"type":"get_connection_info"}`,
			check: func(t *testing.T, f map[string]any) {
				assert.Equal(t, TypeConnectionInfo, f["type"])
				assert.Equal(t, "s1", f["session_id"])
				assert.EqualValues(t, 1, f["total_connections"])
				assert.EqualValues(t, 1, f["session_connections"])
			},
		},
		{
			name: "unknown type",
			raw:  `{"type":"dance"}`,
			check: func(t *testing.T, f map[string]any) {
				assert.Equal(t, TypeError, f["type"])
				assert.Equal(t, "Unknown message type: dance", f["message"])
			},
		},
		{
			name: "invalid json",
			raw:  `{not json`,
			check: func(t *testing.T, f map[string]any) {
				assert.Equal(t, TypeError, f["type"])
				assert.Equal(t, "Invalid JSON format", f["message"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub.HandleMessage(c, []byte(tt.raw))
			tt.check(t, conn.next(t))
		})
	}
	assert.Empty(t, c.Subscriptions())
}

func TestSubscriptionsDoNotFilterDelivery(t *testing.T) {
	t.Parallel()

	hub := testHub(HubConfig{})
	c, conn := connected(t, hub, "s1")

	hub.HandleMessage(c, []byte(`{"type":"subscribe_task","task_id":"t-1"}`))
	conn.next(t)
	assert.Equal(t, []string{"t-1"}, c.Subscriptions())

	require.NoError(t, hub.Publish(context.Background(), "s1", Update{TaskID: "t-2"}))
	frame := conn.next(t)
	assert.Equal(t, "t-2", frame["data"].(map[string]any)["task_id"])
}

func TestRunAdminStats(t *testing.T) {
	t.Parallel()

	hub := testHub(HubConfig{})
	connected(t, hub, "s1")
	connected(t, hub, "s1")
	connected(t, hub, "s2")

	adminConn := newFakeConn()
	admin, err := hub.ConnectAdmin(adminConn)
	require.NoError(t, err)

	stats := func(context.Context) (*domain.TaskStatistics, error) {
		return &domain.TaskStatistics{TotalTasks: 7}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.RunAdminStats(ctx, admin, 10*time.Millisecond, stats)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		frame := adminConn.next(t)
		assert.Equal(t, TypeAdminStats, frame["type"])
		data := frame["data"].(map[string]any)
		assert.EqualValues(t, 3, data["total_connections"])
		assert.EqualValues(t, 2, data["total_sessions"])
		assert.EqualValues(t, 2, data["sessions"].(map[string]any)["s1"])
		assert.EqualValues(t, 7, data["tasks"].(map[string]any)["total_tasks"])
	}

	assert.Equal(t, 3, hub.ConnectionCount(), "admin connections are not session connections")

	cancel()
	<-done
}

func TestStats_ToleratesStatsError(t *testing.T) {
	t.Parallel()

	hub := testHub(HubConfig{})
	got := hub.Stats(context.Background(), func(context.Context) (*domain.TaskStatistics, error) {
		return nil, errors.New("db down")
	})
	assert.Nil(t, got.Tasks)
	assert.Equal(t, 0, got.TotalConnections)
}
