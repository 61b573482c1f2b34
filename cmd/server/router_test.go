package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/mocks"
	"github.com/phrazzld/manga-api/internal/platform/localfs"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/service"
	"github.com/phrazzld/manga-api/internal/service/auth"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog records emitted events in place of a job queue.
type eventLog struct {
	mu     sync.Mutex
	events []*events.TaskRequestEvent
}

func (l *eventLog) HandleEvent(_ context.Context, e *events.TaskRequestEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) all() []*events.TaskRequestEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*events.TaskRequestEvent(nil), l.events...)
}

// newTestApplication wires an application over in-memory stores and a
// temporary local storage directory.
func newTestApplication(t *testing.T) (*application, *eventLog) {
	t.Helper()
	log, _ := logger.NewTestLogger()

	cfg := &config.Config{
		App:       config.AppConfig{Mode: config.ModeLocal},
		Server:    config.ServerConfig{Port: 0, ShutdownTimeout: time.Second},
		Auth:      config.AuthConfig{AdminSecret: "router-test-secret-with-enough-length"},
		WebSocket: config.WebSocketConfig{HeartbeatInterval: time.Hour, AdminStatsInterval: time.Second},
	}

	tasks := mocks.NewMemoryMangaTaskStore()
	panels := mocks.NewMemoryPanelStore()
	sessions := mocks.NewMemorySessionStore()
	objects, err := localfs.New(t.TempDir(), "http://localhost/static", log)
	require.NoError(t, err)

	app := &application{
		config:       cfg,
		logger:       log,
		stores:       store.Stores{Tasks: tasks, Panels: panels, Sessions: sessions},
		uow:          mocks.NewMemoryUnitOfWork(tasks, panels, sessions),
		objects:      objects,
		hub:          progress.NewHub(progress.HubConfig{HeartbeatInterval: time.Hour}, log),
		eventEmitter: events.NewInMemoryEventEmitter(log),
	}
	t.Cleanup(app.hub.Close)

	emitted := &eventLog{}
	app.eventEmitter.RegisterHandler(emitted)

	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	require.NoError(t, err)
	app.mangaService, err = service.NewMangaService(app.stores, app.uow, app.objects, app.eventEmitter, log)
	require.NoError(t, err)
	return app, emitted
}

func TestSetupRouter(t *testing.T) {
	t.Parallel()
	app, emitted := newTestApplication(t)
	srv := httptest.NewServer(app.setupRouter())
	t.Cleanup(srv.Close)

	t.Run("liveness", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "OK", string(body))
	})

	t.Run("api health reports the mode", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/async/health")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var health map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "local", health["queue_mode"])
		assert.Equal(t, "unconfigured", health["database"])
	})

	t.Run("generation is queued", func(t *testing.T) {
		story := strings.Repeat("A lighthouse keeper befriends a stranded whale. ", 3)
		resp, err := http.Post(srv.URL+"/api/async/generate-manga", "application/json",
			strings.NewReader(`{"story_text":"`+story+`","session_id":"router"}`))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		all := emitted.all()
		require.Len(t, all, 1)
		assert.Equal(t, events.TypeMangaGeneration, all[0].Type)
	})

	t.Run("admin routes need a token", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/async/admin/maintenance/statistics", "application/json", nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("local artifacts are served", func(t *testing.T) {
		url, err := app.objects.Upload(t.Context(), "tasks/x/panel_1.png", strings.NewReader("png-data"), 8, "image/png")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost/static/tasks/x/panel_1.png", url)

		resp, err := http.Get(srv.URL + "/static/tasks/x/panel_1.png")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "png-data", string(body))
	})

	t.Run("path traversal is refused", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/static/../go.mod")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	})
}
