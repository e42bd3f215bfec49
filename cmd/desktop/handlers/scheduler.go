package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/churchhouse/backend/internal/dispatch"
	"github.com/kimhsiao/churchhouse/backend/internal/scheduler"
)

// SchedulerHandler handles background refresh status and triggers.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	wsHub     RefreshBroadcaster
}

// RefreshBroadcaster is notified about manual refresh rounds.
type RefreshBroadcaster interface {
	BroadcastRefreshCompleted(refreshed int)
}

// NewSchedulerHandler creates a new SchedulerHandler.
func NewSchedulerHandler(s *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

// SetWebSocketHub sets the hub notified after manual refreshes.
func (h *SchedulerHandler) SetWebSocketHub(hub RefreshBroadcaster) {
	h.wsHub = hub
}

// Routes mounts the handler on r.
func (h *SchedulerHandler) Routes(r chi.Router) {
	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Post("/refresh", h.TriggerRefresh)
		r.Put("/online", h.SetOnline)
	})
}

// GetStatus handles GET /scheduler
func (h *SchedulerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus())
}

// TriggerRefresh handles POST /scheduler/refresh
// Refreshes every auto-refresh view once and waits for the round.
func (h *SchedulerHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := h.scheduler.RefreshNow(r.Context())
	if err != nil {
		opErr := dispatch.NewOperationError(err)
		writeJSON(w, StatusFor(opErr), map[string]interface{}{"error": opErr})
		return
	}
	if h.wsHub != nil {
		h.wsHub.BroadcastRefreshCompleted(n)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"refreshed": n,
	})
}

// SetOnline handles PUT /scheduler/online
func (h *SchedulerHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online bool `json:"online"`
	}
	if !decode(w, r, &request) {
		return
	}
	h.scheduler.SetOnlineStatus(request.Online)
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus())
}
