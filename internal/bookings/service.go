package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

var bookingsTracer = otel.Tracer("salon.internal.bookings")

type store interface {
	Commit(ctx context.Context, p CommitParams) (*Appointment, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*Appointment, error)
	ListForDate(ctx context.Context, date string) ([]Appointment, error)
}

// Service commits paid bookings and serves the admin calendar.
type Service struct {
	repo   store
	logger *logging.Logger
	loc    *time.Location
}

// NewService constructs a bookings service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	return newService(repo, logger)
}

func newService(repo store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger, loc: time.UTC}
}

// WithLocation sets the salon time zone used to default the calendar date.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Commit records a booking whose payment the processor has confirmed.
func (s *Service) Commit(ctx context.Context, p CommitParams) (*Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.commit", trace.WithAttributes(
		attribute.String("salon.attempt_id", p.AttemptID),
		attribute.String("salon.payment_intent_id", p.PaymentIntentID),
		attribute.Int("salon.service_count", len(p.ServiceIDs)),
	))
	defer span.End()

	appt, err := s.repo.Commit(ctx, p)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("salon.appointment_id", appt.ID))
	if appt.AlreadyCommitted {
		s.logger.Info("booking already committed", "appointment_id", appt.ID, "payment_intent_id", p.PaymentIntentID)
		return appt, nil
	}
	s.logger.Info("booking committed",
		"appointment_id", appt.ID,
		"attempt_id", p.AttemptID,
		"payment_intent_id", p.PaymentIntentID,
		"customer_id", appt.CustomerID,
		"total_minor", appt.TotalMinor,
		"amount_paid_minor", appt.DepositMinor,
	)
	return appt, nil
}

// GetByPaymentIntent loads the appointment committed for a payment intent.
func (s *Service) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*Appointment, error) {
	return s.repo.GetByPaymentIntent(ctx, paymentIntentID)
}

// Calendar handles GET /admin/calendar?date=YYYY-MM-DD. The date defaults to
// today in the salon time zone.
func (s *Service) Calendar(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = time.Now().In(s.loc).Format(dateLayout)
	}
	list, err := s.repo.ListForDate(r.Context(), date)
	if err != nil {
		if errors.Is(err, ErrInvalidSlot) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date"})
			return
		}
		s.logger.Error("failed to load calendar", "error", err, "date", date)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load calendar"})
		return
	}
	if list == nil {
		list = []Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "appointments": list})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
