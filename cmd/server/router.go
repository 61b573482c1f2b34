package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/manga-api/internal/api"
	apiMiddleware "github.com/phrazzld/manga-api/internal/api/middleware"
	"github.com/phrazzld/manga-api/internal/platform/localfs"
	"github.com/phrazzld/manga-api/internal/platform/objectstore"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.mangaService, app.logger)
	maintenanceHandler := api.NewMaintenanceHandler(app.mangaService, app.logger)
	adminAuth := apiMiddleware.NewAdminAuth(app.jwtService)
	wsHandler := api.NewWebSocketHandler(
		app.hub,
		app.mangaService,
		app.jwtService,
		app.stats,
		api.NewWebSocketConfig(app.config.WebSocket),
		app.logger,
	)

	// A nil *sql.DB must not become a non-nil Pinger.
	var pinger api.Pinger
	if app.db != nil {
		pinger = app.db
	}
	healthHandler := api.NewHealthHandler(pinger, app.config.App.Mode)

	r.Route("/api/async", func(r chi.Router) {
		r.Post("/generate-manga", taskHandler.GenerateManga)
		r.Post("/generate-manga-from-file", taskHandler.GenerateMangaFromFile)
		r.Get("/task/{id}/status", taskHandler.GetTaskStatus)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Post("/task/{id}/regenerate-panel/{n}", taskHandler.RegeneratePanel)
		r.Delete("/task/{id}", taskHandler.CancelTask)
		r.Get("/health", healthHandler.Health)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth.RequireAdmin)
			r.Post("/admin/maintenance/{job}", maintenanceHandler.TriggerJob)
		})
	})

	r.Get("/ws/health", wsHandler.ServeHealth)
	r.Get("/ws/admin", wsHandler.ServeAdmin)
	r.Get("/ws/{session_id}", wsHandler.ServeSession)

	if local, ok := app.objects.(*localfs.Store); ok {
		files := http.StripPrefix(objectstore.StaticPrefix, http.FileServer(http.Dir(local.Root())))
		r.Handle(objectstore.StaticPrefix+"*", files)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
