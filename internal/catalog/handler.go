package catalog

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

// Handler serves the public catalog read endpoints used by the booking wizard.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a catalog handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

type serviceResponse struct {
	ID          string  `json:"id"`
	CategoryID  string  `json:"categoryId,omitempty"`
	Name        string  `json:"name"`
	Duration    int     `json:"duration"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
}

// ListCategories handles GET /api/catalog/categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("failed to list categories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load categories")
		return
	}
	if categories == nil {
		categories = []Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// ListServices handles GET /api/catalog/services?category=<id>.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	categoryID := strings.TrimSpace(r.URL.Query().Get("category"))
	if categoryID != "" {
		if _, err := uuid.Parse(categoryID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid category id")
			return
		}
	}
	services, err := h.repo.ListServices(r.Context(), categoryID)
	if err != nil {
		h.logger.Error("failed to list services", "error", err, "category_id", categoryID)
		writeError(w, http.StatusInternalServerError, "failed to load services")
		return
	}
	out := make([]serviceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, serviceResponse{
			ID:          svc.ID,
			CategoryID:  svc.CategoryID,
			Name:        svc.Name,
			Duration:    svc.DurationMinutes,
			Price:       svc.Price(),
			Description: svc.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
