package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

type velocityAdmin interface {
	GetAuthorizationStats(ctx context.Context, email string) (*VelocityResult, error)
	ResetAuthorizationVelocity(ctx context.Context, email string) error
}

// VelocityHandler lets staff inspect and clear the payment-attempt counter
// for a customer who was blocked by the velocity limit.
type VelocityHandler struct {
	checker velocityAdmin
	logger  *logging.Logger
}

func NewVelocityHandler(checker velocityAdmin, logger *logging.Logger) *VelocityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityHandler{checker: checker, logger: logger}
}

type velocityStatusResponse struct {
	Email        string     `json:"email"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	Blocked      bool       `json:"blocked"`
	WindowExpiry *time.Time `json:"windowExpiry,omitempty"`
}

// Status handles GET /admin/velocity?email=.
func (h *VelocityHandler) Status(w http.ResponseWriter, r *http.Request) {
	email, ok := velocityEmail(w, r)
	if !ok {
		return
	}
	result, err := h.checker.GetAuthorizationStats(r.Context(), email)
	if err != nil {
		h.logger.Error("velocity stats failed", "error", err, "customer_email", email)
		writeVelocityError(w, http.StatusInternalServerError, "velocity store unavailable")
		return
	}
	resp := velocityStatusResponse{
		Email:       email,
		Attempts:    result.CurrentCount,
		MaxAttempts: result.MaxAllowed,
		Blocked:     result.MaxAllowed > 0 && result.CurrentCount >= result.MaxAllowed,
	}
	if result.CurrentCount > 0 && !result.WindowExpiry.IsZero() {
		expiry := result.WindowExpiry.UTC()
		resp.WindowExpiry = &expiry
	}
	writeVelocityJSON(w, http.StatusOK, resp)
}

// Reset handles DELETE /admin/velocity?email=.
func (h *VelocityHandler) Reset(w http.ResponseWriter, r *http.Request) {
	email, ok := velocityEmail(w, r)
	if !ok {
		return
	}
	if err := h.checker.ResetAuthorizationVelocity(r.Context(), email); err != nil {
		h.logger.Error("velocity reset failed", "error", err, "customer_email", email)
		writeVelocityError(w, http.StatusInternalServerError, "velocity store unavailable")
		return
	}
	h.logger.Info("velocity counter reset", "customer_email", email)
	w.WriteHeader(http.StatusNoContent)
}

func velocityEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		writeVelocityError(w, http.StatusBadRequest, "a valid email query parameter is required")
		return "", false
	}
	return email, true
}

func writeVelocityJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeVelocityError(w http.ResponseWriter, status int, msg string) {
	writeVelocityJSON(w, status, map[string]string{"error": msg})
}
