// Package handlers provides REST API handlers for collection views.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/churchhouse/backend/internal/dispatch"
	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// CollectionHandler exposes the dispatch surface over HTTP.
type CollectionHandler struct {
	surface *dispatch.Surface
}

// NewCollectionHandler creates a new CollectionHandler.
func NewCollectionHandler(surface *dispatch.Surface) *CollectionHandler {
	return &CollectionHandler{surface: surface}
}

// Routes mounts the handler on r.
func (h *CollectionHandler) Routes(r chi.Router) {
	r.Get("/kinds/{kind}/interactions", h.Interactions)

	r.Route("/views", func(r chi.Router) {
		r.Get("/", h.ListViews)
		r.Post("/", h.OpenView)

		r.Route("/{viewID}", func(r chi.Router) {
			r.Get("/", h.GetSnapshot)
			r.Delete("/", h.ReleaseView)
			r.Post("/load", h.LoadInitial)
			r.Post("/more", h.LoadMore)
			r.Post("/refresh", h.Refresh)
			r.Post("/dismiss", h.DismissError)
			r.Post("/items", h.CreateItem)
			r.Delete("/items/{itemID}", h.RemoveItem)
			r.Post("/items/{itemID}/interactions/{interaction}", h.ApplyMutation)
		})
	})
}

// Interactions handles GET /kinds/{kind}/interactions
func (h *CollectionHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.Interactions(models.Kind(chi.URLParam(r, "kind"))))
}

// ListViews handles GET /views
func (h *CollectionHandler) ListViews(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.Views())
}

// OpenView handles POST /views
func (h *CollectionHandler) OpenView(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Kind models.Kind `json:"kind"`
		dispatch.OpenRequest
	}
	if !decode(w, r, &request) {
		return
	}
	writeResult(w, http.StatusCreated, h.surface.Open(request.Kind, request.OpenRequest))
}

// GetSnapshot handles GET /views/{viewID}
func (h *CollectionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.Snapshot(chi.URLParam(r, "viewID")))
}

// ReleaseView handles DELETE /views/{viewID}
func (h *CollectionHandler) ReleaseView(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.Release(chi.URLParam(r, "viewID")))
}

// LoadInitial handles POST /views/{viewID}/load
func (h *CollectionHandler) LoadInitial(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Filter models.Filter `json:"filter"`
	}
	if r.ContentLength != 0 && !decode(w, r, &request) {
		return
	}
	writeResult(w, http.StatusOK, h.surface.LoadInitial(r.Context(), chi.URLParam(r, "viewID"), request.Filter))
}

// LoadMore handles POST /views/{viewID}/more
func (h *CollectionHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.LoadMore(r.Context(), chi.URLParam(r, "viewID")))
}

// Refresh handles POST /views/{viewID}/refresh
func (h *CollectionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.Refresh(r.Context(), chi.URLParam(r, "viewID")))
}

// DismissError handles POST /views/{viewID}/dismiss
func (h *CollectionHandler) DismissError(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.DismissError(chi.URLParam(r, "viewID")))
}

// CreateItem handles POST /views/{viewID}/items
func (h *CollectionHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var draft models.Draft
	if !decode(w, r, &draft) {
		return
	}
	writeResult(w, http.StatusCreated, h.surface.CreateItem(r.Context(), chi.URLParam(r, "viewID"), draft))
}

// RemoveItem handles DELETE /views/{viewID}/items/{itemID}
func (h *CollectionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.surface.RemoveItem(r.Context(), chi.URLParam(r, "viewID"), chi.URLParam(r, "itemID")))
}

// ApplyMutation handles POST /views/{viewID}/items/{itemID}/interactions/{interaction}
func (h *CollectionHandler) ApplyMutation(w http.ResponseWriter, r *http.Request) {
	res := h.surface.ApplyMutation(r.Context(),
		chi.URLParam(r, "viewID"),
		chi.URLParam(r, "itemID"),
		models.Interaction(chi.URLParam(r, "interaction")))
	writeResult(w, http.StatusOK, res)
}

// =====================================================
// Response helpers
// =====================================================

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": &dispatch.OperationError{
				Kind:        errors.KindValidation,
				Code:        errors.ErrInvalid,
				Message:     "Invalid request body",
				UserVisible: true,
			},
		})
		return false
	}
	return true
}

func writeResult[T any](w http.ResponseWriter, okStatus int, res dispatch.Result[T]) {
	if res.Err != nil {
		writeJSON(w, StatusFor(res.Err), res)
		return
	}
	writeJSON(w, okStatus, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps an operation error onto an HTTP status.
func StatusFor(e *dispatch.OperationError) int {
	switch e.Code {
	case errors.ErrViewNotFound, errors.ErrItemNotFound, errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrInFlight, errors.ErrMutationPending, errors.ErrItemUnconfirmed:
		return http.StatusConflict
	case errors.ErrPermission:
		return http.StatusForbidden
	case errors.ErrRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrRemoteTimeout:
		return http.StatusGatewayTimeout
	}
	switch e.Kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindRemote:
		return http.StatusBadGateway
	case errors.KindStale:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
