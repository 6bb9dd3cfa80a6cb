package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/salon-booking/internal/bookings"
	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/customers"
	"github.com/wolfman30/salon-booking/internal/payments"
	"github.com/wolfman30/salon-booking/pkg/logging"
)

const maxBodyBytes = 64 << 10

type checkoutService interface {
	StartCheckout(ctx context.Context, req StartRequest) (*StartResult, error)
	Finalize(ctx context.Context, paymentIntentID, source string) (*bookings.Appointment, error)
}

// Handler exposes checkout over HTTP.
type Handler struct {
	svc    checkoutService
	logger *logging.Logger
}

func NewHandler(svc checkoutService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

type createPaymentIntentRequest struct {
	ServiceIDs      []string          `json:"serviceIds"`
	IsDeposit       bool              `json:"isDeposit"`
	CustomerDetails customers.Details `json:"customerDetails"`
	Date            string            `json:"date"`
	Time            string            `json:"time"`
	IsGroup         bool              `json:"isGroup"`
	GroupSize       int               `json:"groupSize"`
	AttemptID       string            `json:"attemptId"`
	Notes           string            `json:"notes"`
}

type createPaymentIntentResponse struct {
	ClientSecret    string  `json:"clientSecret"`
	Amount          float64 `json:"amount"`
	Total           float64 `json:"total"`
	Currency        string  `json:"currency"`
	PaymentIntentID string  `json:"paymentIntentId"`
	AttemptID       string  `json:"attemptId"`
	PaymentChoice   string  `json:"paymentChoice"`
}

// CreatePaymentIntent handles POST /api/create-payment-intent. Any amount
// sent by the client is ignored; the server prices the services itself.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createPaymentIntentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ServiceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "no services selected")
		return
	}

	res, err := h.svc.StartCheckout(r.Context(), StartRequest{
		AttemptID:  req.AttemptID,
		ServiceIDs: req.ServiceIDs,
		IsDeposit:  req.IsDeposit,
		Customer:   req.CustomerDetails,
		Date:       req.Date,
		Time:       req.Time,
		IsGroup:    req.IsGroup,
		GroupSize:  req.GroupSize,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createPaymentIntentResponse{
		ClientSecret:    res.ClientSecret,
		Amount:          catalog.MajorUnits(res.AmountDueMinor),
		Total:           catalog.MajorUnits(res.TotalMinor),
		Currency:        res.Currency,
		PaymentIntentID: res.PaymentIntentID,
		AttemptID:       res.AttemptID,
		PaymentChoice:   string(res.Choice),
	})
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// ConfirmBooking handles POST /api/bookings/confirm once the browser has
// confirmed the payment with the processor.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	appt, err := h.svc.Finalize(r.Context(), req.PaymentIntentID, SourceClient)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	status := http.StatusCreated
	if appt.AlreadyCommitted {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"success": true, "appointment": appt})
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var (
		notFound  *catalog.ServiceNotFoundError
		processor *payments.ProcessorError
		commitErr *CommitError
	)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.Is(err, payments.ErrVelocityExceeded):
		writeError(w, http.StatusTooManyRequests, "too many payment attempts, please try again later")
	case errors.As(err, &processor):
		if processor.Declined() {
			writeError(w, http.StatusPaymentRequired, processor.Message)
			return
		}
		h.logger.Error("payment processor error", "error", err)
		writeError(w, http.StatusInternalServerError, processor.Message)
	case errors.Is(err, ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, ErrPaymentNotConfirmed), errors.Is(err, ErrAttemptConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &commitErr), errors.Is(err, ErrNeedsRepair):
		writeError(w, http.StatusInternalServerError,
			"your payment was received but the booking could not be completed; the salon has been notified")
	default:
		h.logger.Error("checkout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process booking")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
