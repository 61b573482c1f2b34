package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/phrazzld/manga-api/internal/api/shared"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/service"
)

// Response messages.
const (
	msgTaskCreated      = "Task created, processing has started"
	msgRegenerationSent = "Panel %d regeneration started"
	msgTaskCancelled    = "Task cancelled"
)

// TaskHandler handles the manga task endpoints.
type TaskHandler struct {
	mangaService service.MangaService
	logger       *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(mangaService service.MangaService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		mangaService: mangaService,
		logger:       logger.With("component", "task_handler"),
	}
}

func (h *TaskHandler) log(r *http.Request) *slog.Logger {
	return logger.FromContextOrDefault(r.Context(), h.logger)
}

// GenerateManga handles POST /api/async/generate-manga
func (h *TaskHandler) GenerateManga(w http.ResponseWriter, r *http.Request) {
	var req GenerateMangaRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		if errors.Is(err, shared.ErrBodyTooLarge) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	h.createTask(w, r, req)
}

// GenerateMangaFromFile handles POST /api/async/generate-manga-from-file
func (h *TaskHandler) GenerateMangaFromFile(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r, MaxStoryFileBytes) {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "A .txt story file is required")
		return
	}
	defer func() { _ = file.Close() }()

	if fileExtension(header) != ".txt" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Only .txt files are supported")
		return
	}
	if header.Size > MaxStoryFileBytes {
		shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Story file exceeds 1 MiB")
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, MaxStoryFileBytes+1))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Failed to read uploaded file", err)
		return
	}
	if len(content) > MaxStoryFileBytes {
		shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Story file exceeds 1 MiB")
		return
	}
	if !utf8.Valid(content) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Story file must be UTF-8 text")
		return
	}
	if strings.TrimSpace(string(content)) == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Story file is empty")
		return
	}

	numScenes, err := shared.FormInt(r, "num_scenes", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	h.createTask(w, r, GenerateMangaRequest{
		StoryText:       string(content),
		SessionID:       r.FormValue("session_id"),
		NumScenes:       numScenes,
		ArtStyle:        r.FormValue("art_style"),
		Mood:            r.FormValue("mood"),
		ColorPalette:    r.FormValue("color_palette"),
		CharacterStyle:  r.FormValue("character_style"),
		LineStyle:       r.FormValue("line_style"),
		Composition:     r.FormValue("composition"),
		AdditionalNotes: r.FormValue("additional_notes"),
	})
}

func (h *TaskHandler) createTask(w http.ResponseWriter, r *http.Request, req GenerateMangaRequest) {
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.mangaService.CreateTask(r.Context(), service.CreateTaskRequest{
		SessionID: req.SessionID,
		Story:     req.StoryText,
		NumScenes: req.NumScenes,
		Style:     req.Style(),
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	h.log(r).Info("generation task accepted", "task_id", task.ID, "session_id", task.SessionID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskCreatedResponse{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Message:   msgTaskCreated,
		SessionID: task.SessionID,
	})
}

// GetTaskStatus handles GET /api/async/task/{id}/status
func (h *TaskHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	details, err := h.mangaService.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskStatusResponse(details))
}

// ListTasks handles GET /api/async/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}
	limit, err := shared.QueryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := shared.QueryInt(r, "offset", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.mangaService.ListTasks(r.Context(), sessionID, limit, offset)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	resp := TaskListResponse{
		SessionID: sessionID,
		Tasks:     make([]TaskListItem, 0, len(items)),
		Limit:     limit,
		Offset:    offset,
	}
	for _, item := range items {
		resp.Tasks = append(resp.Tasks, taskListItem(item))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// RegeneratePanel handles POST /api/async/task/{id}/regenerate-panel/{n}
func (h *TaskHandler) RegeneratePanel(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	panelNumber, err := getPathInt(r, "n")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if !h.parseMultipart(w, r, MaxReferenceImageSize) {
		return
	}

	modification := strings.TrimSpace(r.FormValue("modification_request"))
	if modification == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "modification_request is required")
		return
	}
	replace, err := shared.FormBool(r, "replace_original", false)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req := service.RegenerationRequest{
		TaskID:              taskID,
		PanelNumber:         panelNumber,
		ModificationRequest: modification,
		ReplaceOriginal:     replace,
	}

	file, header, err := r.FormFile("reference_image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid reference image", err)
		return
	default:
		defer func() { _ = file.Close() }()
		if msg, status := checkReferenceImage(header); msg != "" {
			shared.RespondWithError(w, r, status, msg)
			return
		}
		req.Reference = &service.ReferenceImage{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}
	}

	ticket, err := h.mangaService.RequestPanelRegeneration(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start panel regeneration")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, RegenerationResponse{
		TaskID:             ticket.TaskID,
		PanelNumber:        ticket.PanelNumber,
		RegeneratedPanelID: ticket.RegeneratedPanelID,
		ReplaceOriginal:    ticket.ReplaceOriginal,
		Message:            fmt.Sprintf(msgRegenerationSent, ticket.PanelNumber),
	})
}

func checkReferenceImage(h *multipart.FileHeader) (string, int) {
	if !ReferenceImageExtensions[fileExtension(h)] {
		return "Reference image must be jpg, jpeg, png, gif, bmp or webp", http.StatusBadRequest
	}
	if h.Size > MaxReferenceImageSize {
		return "Reference image exceeds 10 MiB", http.StatusRequestEntityTooLarge
	}
	if h.Size == 0 {
		return "Reference image is empty", http.StatusBadRequest
	}
	return "", 0
}

// CancelTask handles DELETE /api/async/task/{id}
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.mangaService.CancelTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{
		TaskID:  task.ID,
		Status:  string(domain.TaskStatusCancelled),
		Message: msgTaskCancelled,
	})
}

// parseMultipart bounds the body to limit plus form overhead and parses it.
// It writes the error response and returns false on failure.
func (h *TaskHandler) parseMultipart(w http.ResponseWriter, r *http.Request, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Upload too large")
			return false
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart form", err)
		return false
	}
	return true
}
