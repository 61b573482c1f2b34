package main

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	app, _ := newTestApplication(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, err := app.hub.ConnectAdmin(nil)
	assert.ErrorIs(t, err, progress.ErrHubClosed, "cleanup closes the hub")
}

func TestShutdownTimeoutDefault(t *testing.T) {
	t.Parallel()
	app := &application{}
	assert.Equal(t, 10*time.Second, app.shutdownTimeout())
}
