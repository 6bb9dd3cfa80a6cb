package customers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

type lister interface {
	List(ctx context.Context, filter ListFilter) ([]Customer, error)
}

// Handler serves the admin customer list.
type Handler struct {
	repo   lister
	logger *logging.Logger
}

// NewHandler creates a new customers handler
func NewHandler(repo lister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListCustomersResponse is the response for listing customers
type ListCustomersResponse struct {
	Customers []Customer `json:"customers"`
	Count     int        `json:"count"`
	Offset    int        `json:"offset"`
	Limit     int        `json:"limit"`
}

// ListCustomers handles GET /admin/customers?search=&limit=&offset=
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  50,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 200 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	list, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list customers", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list customers")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ListCustomersResponse{
		Customers: list,
		Count:     len(list),
		Offset:    filter.Offset,
		Limit:     filter.Limit,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
