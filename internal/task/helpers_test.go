package task

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// waitForStatus polls the store until the job reaches status.
func waitForStatus(t *testing.T, store *MockTaskStore, task Task, status TaskStatus) JobRecord {
	t.Helper()
	var rec JobRecord
	assert.Eventually(t, func() bool {
		var ok bool
		rec, ok = store.Get(task.ID())
		return ok && rec.Status == status
	}, 2*time.Second, 10*time.Millisecond, "task %s never reached %s", task.ID(), status)
	return rec
}
