package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

type incidentStore interface {
	List(ctx context.Context, filter Filter) ([]Incident, error)
	Resolve(ctx context.Context, id string) error
}

// Handler serves the admin reconciliation views.
type Handler struct {
	store  incidentStore
	logger *logging.Logger
}

func NewHandler(store incidentStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// ListIncidents handles GET /admin/incidents?status=open|all&limit=
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := Filter{Limit: 100}
	switch r.URL.Query().Get("status") {
	case "", "open":
	case "all":
		filter.IncludeResolved = true
	default:
		writeError(w, http.StatusBadRequest, "status must be open or all")
		return
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	list, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list incidents", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	if list == nil {
		list = []Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list, "count": len(list)})
}

// ResolveIncident handles POST /admin/incidents/{id}/resolve.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		h.logger.Error("failed to resolve incident", "error", err, "incident_id", id)
		writeError(w, http.StatusInternalServerError, "failed to resolve incident")
		return
	}
	h.logger.Info("incident resolved", "incident_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
