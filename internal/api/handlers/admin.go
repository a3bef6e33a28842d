package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dean0x/claudine-sub000/internal/logger"
	"github.com/dean0x/claudine-sub000/internal/orchestrator"
)

// AdminHandler exposes operational visibility into the running supervisor.
// The teacher's DLQ management, per-worker pause/resume, and queue-purge
// endpoints have no equivalent here: there is no dead-letter queue, no
// per-worker pause flag, and no externally addressable Redis stream in
// this architecture's in-process queue, so those endpoints were dropped
// rather than carried forward as dead code (see DESIGN.md).
type AdminHandler struct {
	orch *orchestrator.Orchestrator
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(orch *orchestrator.Orchestrator) *AdminHandler {
	return &AdminHandler{orch: orch}
}

// HealthCheck handles GET /admin/health, reporting the resource monitor's
// current snapshot, the live worker count, and the repository's task count
// in place of the teacher's Redis ping.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Resource().GetResources()
	if err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	taskCount, _ := h.orch.Repository().Count()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"cpuUsagePercent":      snap.CPUUsagePercent,
		"availableMemoryBytes": snap.AvailableMemoryBytes,
		"loadAverage":          snap.LoadAverage,
		"workerCount":          h.orch.Pool().GetWorkerCount(),
		"taskCount":            taskCount,
	})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}
