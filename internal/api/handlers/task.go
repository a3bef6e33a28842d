package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/logger"
	"github.com/dean0x/claudine-sub000/internal/orchestrator"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// TaskHandler adapts HTTP requests onto the orchestrator's
// Delegate/Status/Logs/Cancel/Retry command surface.
type TaskHandler struct {
	orch *orchestrator.Orchestrator
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(orch *orchestrator.Orchestrator) *TaskHandler {
	return &TaskHandler{orch: orch}
}

// createTaskRequest is the wire shape for POST /v1/tasks.
type createTaskRequest struct {
	Prompt           string   `json:"prompt"`
	Priority         string   `json:"priority"`
	WorkingDirectory string   `json:"workingDirectory,omitempty"`
	TimeoutMs        int64    `json:"timeout,omitempty"`
	MaxOutputBuffer  int64    `json:"maxOutputBuffer,omitempty"`
	DependsOn        []string `json:"dependsOn,omitempty"`
}

// Create handles POST /v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var dependsOn []task.ID
	for _, d := range req.DependsOn {
		id, err := task.ParseID(d)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid dependsOn id: "+d)
			return
		}
		dependsOn = append(dependsOn, id)
	}

	t, err := h.orch.Delegate(r.Context(), task.CreateRequest{
		Prompt:           req.Prompt,
		Priority:         task.ParsePriority(req.Priority),
		WorkingDirectory: req.WorkingDirectory,
		Timeout:          time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxOutputBuffer:  req.MaxOutputBuffer,
		DependsOn:        dependsOn,
	})
	if err != nil {
		h.respondTaskError(w, err)
		return
	}

	logger.Info().Str("task_id", t.ID.String()).Str("priority", t.Priority.String()).Msg("task delegated")
	h.respondJSON(w, http.StatusCreated, t)
}

// Get handles GET /v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseTaskID(w, r)
	if !ok {
		return
	}

	res, err := h.orch.Status(r.Context(), &id)
	if err != nil {
		h.respondTaskError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

// List handles GET /v1/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.Status(r.Context(), nil)
	if err != nil {
		h.respondTaskError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

// Logs handles GET /v1/tasks/{taskID}/logs?tail=N.
func (h *TaskHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseTaskID(w, r)
	if !ok {
		return
	}

	tail := 0
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "tail must be an integer")
			return
		}
		tail = n
	}

	snap, err := h.orch.Logs(r.Context(), id, tail)
	if err != nil {
		h.respondTaskError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// cancelRequest is the optional wire shape for POST /v1/tasks/{taskID}/cancel.
type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Cancel handles POST /v1/tasks/{taskID}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseTaskID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.orch.Cancel(r.Context(), id, req.Reason); err != nil {
		h.respondTaskError(w, err)
		return
	}

	logger.Info().Str("task_id", id.String()).Msg("task cancelled")
	w.WriteHeader(http.StatusNoContent)
}

// Retry handles POST /v1/tasks/{taskID}/retry.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseTaskID(w, r)
	if !ok {
		return
	}

	retried, err := h.orch.Retry(r.Context(), id)
	if err != nil {
		h.respondTaskError(w, err)
		return
	}

	logger.Info().Str("task_id", retried.ID.String()).Str("parent_task_id", id.String()).Msg("task retried")
	h.respondJSON(w, http.StatusCreated, retried)
}

func (h *TaskHandler) parseTaskID(w http.ResponseWriter, r *http.Request) (task.ID, bool) {
	raw := chi.URLParam(r, "taskID")
	id, err := task.ParseID(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return "", false
	}
	return id, true
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// respondTaskError maps an errs.Kind onto the HTTP status code a caller of
// the supervisor's own error taxonomy would expect.
func (h *TaskHandler) respondTaskError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.TaskNotFound, errs.WorkerNotFound, errs.ProcessNotFound:
		status = http.StatusNotFound
	case errs.InvalidInput, errs.InvalidTaskID, errs.InvalidPrompt, errs.InvalidDirectory, errs.InvalidOperation:
		status = http.StatusBadRequest
	case errs.TaskAlreadyRunning, errs.TaskCannotCancel:
		status = http.StatusConflict
	case errs.QueueFull, errs.InsufficientResources:
		status = http.StatusServiceUnavailable
	}
	logger.Error().Err(err).Str("kind", string(kind)).Msg("task request failed")
	h.respondError(w, status, err.Error())
}
