package staff

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

type reader interface {
	ListEmployees(ctx context.Context, includeInactive bool) ([]Employee, error)
	WeeklyAvailability(ctx context.Context, employeeID string) ([]Availability, error)
}

type Handler struct {
	repo   reader
	logger *logging.Logger
}

func NewHandler(repo reader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListEmployees handles GET /admin/employees?all=true
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListEmployees(r.Context(), r.URL.Query().Get("all") == "true")
	if err != nil {
		h.logger.Error("failed to list employees", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}
	if list == nil {
		list = []Employee{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": list})
}

// Availability handles GET /admin/employees/{id}/availability
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	week, err := h.repo.WeeklyAvailability(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrInvalidEmployeeID) {
			writeError(w, http.StatusBadRequest, "invalid employee id")
			return
		}
		h.logger.Error("failed to load availability", "error", err, "employee_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load availability")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employeeId": id, "availability": week})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
