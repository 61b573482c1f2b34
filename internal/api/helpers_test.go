package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/manga-api/internal/api/middleware"
	"github.com/phrazzld/manga-api/internal/api/shared"
	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/mocks"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/service"
	"github.com/phrazzld/manga-api/internal/service/auth"
	"github.com/phrazzld/manga-api/internal/storage"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/stretchr/testify/require"
)

const testAdminSecret = "api-test-secret-that-is-long-enough-123"

var testStory = strings.Repeat("The robot gardener waters a field of iron flowers. ", 3)

type testAPI struct {
	router   chi.Router
	tasks    *mocks.MemoryMangaTaskStore
	panels   *mocks.MemoryPanelStore
	sessions *mocks.MemorySessionStore
	objects  *storage.MemoryStorage
	hub      *progress.Hub
	jwt      auth.JWTService

	mu      sync.Mutex
	emitted []*events.TaskRequestEvent
	emitErr error
}

func (a *testAPI) HandleEvent(_ context.Context, e *events.TaskRequestEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.emitErr != nil {
		return a.emitErr
	}
	a.emitted = append(a.emitted, e)
	return nil
}

func (a *testAPI) events() []*events.TaskRequestEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*events.TaskRequestEvent(nil), a.emitted...)
}

func (a *testAPI) failEmits(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emitErr = err
}

// newTestAPI wires the handlers to in-memory stores the way cmd/server does.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	a := &testAPI{
		tasks:    mocks.NewMemoryMangaTaskStore(),
		panels:   mocks.NewMemoryPanelStore(),
		sessions: mocks.NewMemorySessionStore(),
		objects:  storage.NewMemoryStorage("http://cdn.test"),
		hub:      progress.NewHub(progress.HubConfig{HeartbeatInterval: time.Hour}, nil),
	}
	t.Cleanup(a.hub.Close)

	emitter := events.NewInMemoryEventEmitter(nil)
	emitter.RegisterHandler(a)

	stores := store.Stores{Tasks: a.tasks, Panels: a.panels, Sessions: a.sessions}
	svc, err := service.NewMangaService(stores, mocks.NewMemoryUnitOfWork(a.tasks, a.panels, a.sessions), a.objects, emitter, nil)
	require.NoError(t, err)

	a.jwt, err = auth.NewJWTService(config.AuthConfig{AdminSecret: testAdminSecret})
	require.NoError(t, err)

	tasks := NewTaskHandler(svc, nil)
	maint := NewMaintenanceHandler(svc, nil)
	ws := NewWebSocketHandler(a.hub, svc, a.jwt, nil, WebSocketConfig{AdminStatsInterval: 20 * time.Millisecond}, nil)
	admin := middleware.NewAdminAuth(a.jwt)

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware(nil))
	r.Route("/api/async", func(r chi.Router) {
		r.Post("/generate-manga", tasks.GenerateManga)
		r.Post("/generate-manga-from-file", tasks.GenerateMangaFromFile)
		r.Get("/task/{id}/status", tasks.GetTaskStatus)
		r.Get("/tasks", tasks.ListTasks)
		r.Post("/task/{id}/regenerate-panel/{n}", tasks.RegeneratePanel)
		r.Delete("/task/{id}", tasks.CancelTask)
		r.Get("/health", NewHealthHandler(nil, "local").Health)
		r.With(admin.RequireAdmin).Post("/admin/maintenance/{job}", maint.TriggerJob)
	})
	r.Get("/ws/health", ws.ServeHealth)
	r.Get("/ws/admin", ws.ServeAdmin)
	r.Get("/ws/{session_id}", ws.ServeSession)
	a.router = r
	return a
}

func (a *testAPI) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return a.do(t, http.MethodPost, target, bytes.NewReader(data), "application/json")
}

// completedTask stores a finished task with n rendered panels.
func (a *testAPI) completedTask(t *testing.T, sessionID string, n int) *domain.MangaTask {
	t.Helper()
	task, err := domain.NewMangaTask(sessionID, testStory, n, nil)
	require.NoError(t, err)
	task.Status = domain.TaskStatusCompleted
	task.Progress = 100
	a.tasks.Put(task)
	for i := 1; i <= n; i++ {
		p, err := domain.NewPanel(task.ID, i, "scene")
		require.NoError(t, err)
		p.MarkCompleted("http://cdn.test/panel.png", "panel.png")
		require.NoError(t, a.panels.Create(context.Background(), p))
	}
	return task
}

type formFile struct {
	field, name string
	content     []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
