package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/manga-api/internal/api/shared"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/redact"
	"github.com/phrazzld/manga-api/internal/service"
)

// MaintenanceHandler exposes manual maintenance triggers.
type MaintenanceHandler struct {
	mangaService service.MangaService
	logger       *slog.Logger
}

// NewMaintenanceHandler creates a new MaintenanceHandler
func NewMaintenanceHandler(mangaService service.MangaService, logger *slog.Logger) *MaintenanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceHandler{mangaService: mangaService, logger: logger.With("component", "maintenance_handler")}
}

// TriggerJob handles POST /api/async/admin/maintenance/{job}
func (h *MaintenanceHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	id, err := h.mangaService.EnqueueMaintenance(r.Context(), job)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue maintenance job")
		return
	}

	subject, _ := shared.GetAdminSubject(r.Context())
	h.logger.Info("maintenance job triggered", "job", job, "job_id", id, "admin", subject)
	shared.RespondWithJSON(w, r, http.StatusAccepted, MaintenanceResponse{
		Job:     job,
		JobID:   id,
		Message: "Maintenance job queued",
	})
}

// Pinger reports database reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports the health of the API and its database.
type HealthHandler struct {
	db        Pinger
	queueMode string
	timeout   time.Duration
}

// NewHealthHandler creates a HealthHandler. queueMode is reported as is.
func NewHealthHandler(db Pinger, queueMode string) *HealthHandler {
	return &HealthHandler{db: db, queueMode: queueMode, timeout: 2 * time.Second}
}

// Health handles GET /api/async/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Database: "connected", QueueMode: h.queueMode}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if h.db == nil {
		resp.Database = "unconfigured"
	} else if err := h.db.PingContext(ctx); err != nil {
		logger.FromContext(r.Context()).Warn("health check database ping failed", "error", redact.Error(err))
		resp.Status, resp.Database = "unhealthy", "disconnected"
		status = http.StatusServiceUnavailable
	}

	shared.RespondWithJSON(w, r, status, resp)
}
