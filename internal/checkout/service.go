// Package checkout drives a booking from a priced cart through payment
// authorization to a committed appointment.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking/internal/bookings"
	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/customers"
	"github.com/wolfman30/salon-booking/internal/notify"
	"github.com/wolfman30/salon-booking/internal/observability/metrics"
	"github.com/wolfman30/salon-booking/internal/payments"
	"github.com/wolfman30/salon-booking/internal/reconcile"
	"github.com/wolfman30/salon-booking/pkg/logging"
)

var checkoutTracer = otel.Tracer("salon.internal.checkout")

// Finalize sources.
const (
	SourceClient  = "client"
	SourceWebhook = "webhook"
)

const (
	minGroupSize = 2
	maxGroupSize = 20

	finalizeTimeout = 20 * time.Second
)

// Pricer quotes services from the live price list.
type Pricer interface {
	Quote(ctx context.Context, serviceIDs []string, choice catalog.PaymentChoice) (*catalog.Quote, error)
}

// PaymentProcessor creates and verifies payment intents.
type PaymentProcessor interface {
	CreateAuthorization(ctx context.Context, params payments.AuthorizationParams) (*payments.Authorization, error)
	RetrieveIntent(ctx context.Context, intentID string) (*payments.Intent, error)
	CaptureIntent(ctx context.Context, intentID string) (*payments.Intent, error)
	Currency() string
	ManualCapture() bool
}

// VelocityLimiter rejects customers starting too many payments.
type VelocityLimiter interface {
	Allow(ctx context.Context, email string) error
}

// Committer records paid bookings.
type Committer interface {
	Commit(ctx context.Context, p bookings.CommitParams) (*bookings.Appointment, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*bookings.Appointment, error)
}

// IncidentRecorder stores payments that need manual reconciliation.
type IncidentRecorder interface {
	Record(ctx context.Context, inc reconcile.Incident) (reconcile.Incident, error)
}

// OperatorAlerter tells a human about a payment with no booking.
type OperatorAlerter interface {
	AlertOperator(ctx context.Context, alert notify.OperatorAlert) error
}

type attemptStore interface {
	Create(ctx context.Context, a *Attempt) (bool, error)
	Get(ctx context.Context, id string) (*Attempt, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*Attempt, error)
	SetPaymentPending(ctx context.Context, id, intentID string) error
	MarkAuthorized(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkNeedsRepair(ctx context.Context, id, reason string) error
	RecordPaymentFailure(ctx context.Context, intentID, reason string) error
}

// Deps are the collaborators of a checkout Service.
type Deps struct {
	Pricer    Pricer
	Processor PaymentProcessor
	Velocity  VelocityLimiter
	Attempts  attemptStore
	Bookings  Committer
	Incidents IncidentRecorder
	Alerts    OperatorAlerter
	Metrics   *metrics.BookingMetrics
	Logger    *logging.Logger
	Location  *time.Location
}

// Service orchestrates checkout.
type Service struct {
	pricer    Pricer
	processor PaymentProcessor
	velocity  VelocityLimiter
	attempts  attemptStore
	bookings  Committer
	incidents IncidentRecorder
	alerts    OperatorAlerter
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewService wires a checkout service. Pricer, Processor, Attempts and
// Bookings are required.
func NewService(d Deps) *Service {
	if d.Pricer == nil || d.Processor == nil || d.Attempts == nil || d.Bookings == nil {
		panic("checkout: pricer, processor, attempts and bookings are required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Service{
		pricer:    d.Pricer,
		processor: d.Processor,
		velocity:  d.Velocity,
		attempts:  d.Attempts,
		bookings:  d.Bookings,
		incidents: d.Incidents,
		alerts:    d.Alerts,
		metrics:   d.Metrics,
		logger:    d.Logger,
		loc:       d.Location,
		now:       time.Now,
	}
}

// StartRequest is a customer's request to pay for a booking.
type StartRequest struct {
	AttemptID  string
	ServiceIDs []string
	IsDeposit  bool
	Customer   customers.Details
	Date       string
	Time       string
	IsGroup    bool
	GroupSize  int
	Notes      string
}

// StartResult carries what the browser needs to confirm the payment.
type StartResult struct {
	AttemptID       string
	PaymentIntentID string
	ClientSecret    string
	TotalMinor      int64
	AmountDueMinor  int64
	Currency        string
	Choice          catalog.PaymentChoice
}

// StartCheckout validates the request, prices it from the catalog and
// creates a payment intent for the amount due. Nothing reaches the
// processor unless validation and pricing succeed.
func (s *Service) StartCheckout(ctx context.Context, req StartRequest) (*StartResult, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.start")
	defer span.End()

	attempt, err := s.validate(req)
	if err != nil {
		s.metrics.ObserveCheckout("invalid")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("salon.attempt_id", attempt.ID),
		attribute.Int("salon.service_count", len(attempt.ServiceIDs)),
	)

	quote, err := s.pricer.Quote(ctx, attempt.ServiceIDs, attempt.Choice)
	if err != nil {
		span.RecordError(err)
		var notFound *catalog.ServiceNotFoundError
		switch {
		case errors.As(err, &notFound):
			s.metrics.ObserveCheckout("not_found")
		case errors.Is(err, catalog.ErrEmptyRequest), errors.Is(err, catalog.ErrInvalidServiceID):
			s.metrics.ObserveCheckout("invalid")
			return nil, invalid(err)
		default:
			s.metrics.ObserveCheckout("error")
		}
		return nil, err
	}
	if _, err := bookings.EndTime(attempt.StartTime, quote.DurationMinutes); err != nil {
		s.metrics.ObserveCheckout("invalid")
		return nil, invalidf("booking must finish the same day")
	}
	if quote.AmountDueMinor <= 0 {
		s.metrics.ObserveCheckout("invalid")
		return nil, invalidf("booking total must be greater than zero")
	}
	attempt.ServiceIDs = quote.ServiceIDs()
	attempt.TotalMinor = quote.TotalMinor
	attempt.AmountDueMinor = quote.AmountDueMinor
	attempt.DurationMinutes = quote.DurationMinutes
	attempt.Currency = s.processor.Currency()

	if s.velocity != nil {
		if err := s.velocity.Allow(ctx, attempt.Customer.Email); err != nil {
			s.metrics.ObserveVelocityBlocked()
			s.metrics.ObserveCheckout("velocity")
			return nil, err
		}
	}

	created, err := s.attempts.Create(ctx, attempt)
	if err != nil {
		s.metrics.ObserveCheckout("error")
		return nil, err
	}
	intentLive := false
	if !created {
		existing, err := s.attempts.Get(ctx, attempt.ID)
		if err != nil {
			s.metrics.ObserveCheckout("error")
			return nil, err
		}
		if !existing.Open() || existing.AmountDueMinor != attempt.AmountDueMinor || existing.Currency != attempt.Currency {
			s.metrics.ObserveCheckout("conflict")
			return nil, fmt.Errorf("%w: attempt %s is %s", ErrAttemptConflict, existing.ID, existing.Status)
		}
		intentLive = existing.Status == StatusPaymentPending
	}

	started := s.now()
	auth, err := s.processor.CreateAuthorization(ctx, payments.AuthorizationParams{
		AttemptID:     attempt.ID,
		AmountMinor:   attempt.AmountDueMinor,
		Currency:      attempt.Currency,
		ServiceIDs:    attempt.ServiceIDs,
		ServiceNames:  quote.ServiceNames(),
		CustomerEmail: attempt.Customer.Email,
		PaymentChoice: string(attempt.Choice),
		Description:   "Salon booking " + attempt.Date + " " + attempt.StartTime,
	})
	s.metrics.ObserveProcessorLatency("create_intent", s.now().Sub(started).Seconds())
	if err != nil {
		span.RecordError(err)
		// A live intent from an earlier request can still be confirmed.
		if !intentLive {
			if markErr := s.attempts.MarkFailed(ctx, attempt.ID, err.Error()); markErr != nil && !errors.Is(markErr, errStaleTransition) {
				s.logger.Warn("failed to mark attempt failed", "error", markErr, "attempt_id", attempt.ID)
			}
		}
		outcome := "error"
		var pe *payments.ProcessorError
		if errors.As(err, &pe) && pe.Declined() {
			outcome = "declined"
		}
		s.metrics.ObserveAuthorization(string(attempt.Choice), outcome)
		s.metrics.ObserveCheckout(outcome)
		s.logger.Warn("payment authorization failed", "error", err, "attempt_id", attempt.ID, "amount_minor", attempt.AmountDueMinor)
		return nil, err
	}

	if err := s.attempts.SetPaymentPending(ctx, attempt.ID, auth.IntentID); err != nil {
		s.metrics.ObserveCheckout("error")
		return nil, fmt.Errorf("checkout: record payment intent: %w", err)
	}
	s.metrics.ObserveAuthorization(string(attempt.Choice), "created")
	s.metrics.ObserveCheckout("ok")
	span.SetAttributes(attribute.String("salon.payment_intent_id", auth.IntentID))

	s.logger.Info("payment intent created",
		"attempt_id", attempt.ID,
		"payment_intent_id", auth.IntentID,
		"total_minor", attempt.TotalMinor,
		"amount_minor", attempt.AmountDueMinor,
		"payment_choice", attempt.Choice,
	)

	return &StartResult{
		AttemptID:       attempt.ID,
		PaymentIntentID: auth.IntentID,
		ClientSecret:    auth.ClientSecret,
		TotalMinor:      attempt.TotalMinor,
		AmountDueMinor:  attempt.AmountDueMinor,
		Currency:        attempt.Currency,
		Choice:          attempt.Choice,
	}, nil
}

func (s *Service) validate(req StartRequest) (*Attempt, error) {
	attemptID := strings.TrimSpace(req.AttemptID)
	if attemptID == "" {
		attemptID = uuid.NewString()
	} else if parsed, err := uuid.Parse(attemptID); err != nil {
		return nil, invalidf("attemptId must be a uuid")
	} else {
		attemptID = parsed.String()
	}

	ids, err := catalog.NormalizeIDs(req.ServiceIDs)
	if err != nil {
		return nil, invalid(err)
	}

	details := req.Customer.Normalize()
	if err := details.Validate(); err != nil {
		return nil, invalid(err)
	}

	start, err := bookings.Start(req.Date, req.Time, s.loc)
	if err != nil {
		return nil, invalid(err)
	}
	if start.Before(s.now().In(s.loc)) {
		return nil, invalidf("appointment time is in the past")
	}

	groupSize := 1
	if req.IsGroup {
		if req.GroupSize < minGroupSize || req.GroupSize > maxGroupSize {
			return nil, invalidf("groupSize must be between %d and %d", minGroupSize, maxGroupSize)
		}
		groupSize = req.GroupSize
	}

	return &Attempt{
		ID:             attemptID,
		ServiceIDs:     ids,
		Choice:         catalog.ChoiceFromDeposit(req.IsDeposit),
		Customer:       details,
		Date:           start.Format("2006-01-02"),
		StartTime:      start.Format("15:04"),
		IsGroupBooking: req.IsGroup,
		GroupSize:      groupSize,
		Notes:          strings.TrimSpace(req.Notes),
	}, nil
}

// Finalize commits the booking behind a confirmed payment intent. It is safe
// to call from both the browser and the webhook: once committed, later calls
// return the same appointment.
func (s *Service) Finalize(ctx context.Context, paymentIntentID, source string) (*bookings.Appointment, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.finalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.payment_intent_id", paymentIntentID),
		attribute.String("salon.source", source),
	)

	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, invalidf("paymentIntentId is required")
	}

	attempt, err := s.attempts.GetByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("salon.attempt_id", attempt.ID))

	switch attempt.Status {
	case StatusCommitted:
		return s.existing(ctx, paymentIntentID, source)
	case StatusNeedsRepair:
		return nil, ErrNeedsRepair
	case StatusPaymentPending, StatusAuthorized, StatusFailed:
	default:
		return nil, fmt.Errorf("%w: attempt %s is %s", ErrPaymentNotConfirmed, attempt.ID, attempt.Status)
	}

	started := s.now()
	intent, err := s.processor.RetrieveIntent(ctx, paymentIntentID)
	s.metrics.ObserveProcessorLatency("retrieve_intent", s.now().Sub(started).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !intent.Confirmed() {
		return nil, fmt.Errorf("%w: intent status %s", ErrPaymentNotConfirmed, intent.Status)
	}

	// Money is held from here on; finish even if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if attempt.Status == StatusFailed {
		return nil, s.commitFailed(ctx, attempt, source, "verify",
			fmt.Errorf("payment confirmed on attempt closed as failed: %s", attempt.FailureReason))
	}
	if err := verifyIntent(attempt, intent); err != nil {
		return nil, s.commitFailed(ctx, attempt, source, "verify", err)
	}

	if err := s.attempts.MarkAuthorized(ctx, attempt.ID); err != nil {
		if errors.Is(err, errStaleTransition) {
			return s.afterRace(ctx, attempt.ID, paymentIntentID, source)
		}
		return nil, s.commitFailed(ctx, attempt, source, "authorize", err)
	}

	appt, err := s.bookings.Commit(ctx, bookings.CommitParams{
		AttemptID:       attempt.ID,
		PaymentIntentID: paymentIntentID,
		Customer:        attempt.Customer,
		ServiceIDs:      attempt.ServiceIDs,
		Date:            attempt.Date,
		StartTime:       attempt.StartTime,
		DurationMinutes: attempt.DurationMinutes,
		TotalMinor:      attempt.TotalMinor,
		AmountDueMinor:  attempt.AmountDueMinor,
		Currency:        attempt.Currency,
		Choice:          attempt.Choice,
		IsGroupBooking:  attempt.IsGroupBooking,
		GroupSize:       attempt.GroupSize,
		Notes:           attempt.Notes,
	})
	if err != nil {
		if errors.Is(err, bookings.ErrAttemptNotAuthorized) {
			return s.afterRace(ctx, attempt.ID, paymentIntentID, source)
		}
		span.RecordError(err)
		return nil, s.commitFailed(ctx, attempt, source, "commit", err)
	}

	if appt.AlreadyCommitted {
		s.metrics.ObserveCommit(source, "already_committed")
		return appt, nil
	}
	s.metrics.ObserveCommit(source, "committed")

	if s.processor.ManualCapture() && intent.Status == payments.IntentRequiresCapture {
		s.capture(ctx, attempt, paymentIntentID)
	}
	return appt, nil
}

func (s *Service) existing(ctx context.Context, paymentIntentID, source string) (*bookings.Appointment, error) {
	appt, err := s.bookings.GetByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("checkout: load committed booking: %w", err)
	}
	appt.AlreadyCommitted = true
	s.metrics.ObserveCommit(source, "already_committed")
	return appt, nil
}

// afterRace resolves a lost compare-and-set: another path moved the attempt
// on first.
func (s *Service) afterRace(ctx context.Context, attemptID, paymentIntentID, source string) (*bookings.Appointment, error) {
	current, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case StatusCommitted:
		return s.existing(ctx, paymentIntentID, source)
	case StatusNeedsRepair:
		return nil, ErrNeedsRepair
	default:
		return nil, fmt.Errorf("%w: attempt %s is %s", ErrPaymentNotConfirmed, attemptID, current.Status)
	}
}

func verifyIntent(a *Attempt, intent *payments.Intent) error {
	if intent.Amount != a.AmountDueMinor {
		return fmt.Errorf("intent amount %d does not match amount due %d", intent.Amount, a.AmountDueMinor)
	}
	if !strings.EqualFold(intent.Currency, a.Currency) {
		return fmt.Errorf("intent currency %q does not match %q", intent.Currency, a.Currency)
	}
	if id, ok := intent.Metadata["attempt_id"]; ok && id != a.ID {
		return fmt.Errorf("intent belongs to attempt %q", id)
	}
	return nil
}

// commitFailed handles money taken without a booking: the attempt is flagged,
// an incident recorded and an operator alerted. Each step is best effort so
// one failing does not hide the others.
func (s *Service) commitFailed(ctx context.Context, a *Attempt, source, stage string, cause error) error {
	s.logger.Error("booking commit failed after payment",
		"error", cause,
		"stage", stage,
		"source", source,
		"attempt_id", a.ID,
		"payment_intent_id", a.PaymentIntentID,
		"amount_minor", a.AmountDueMinor,
		"customer_email", a.Customer.Email,
	)
	s.metrics.ObserveCommit(source, "failed")
	s.metrics.ObserveIncident()

	ctx = context.WithoutCancel(ctx)
	if err := s.attempts.MarkNeedsRepair(ctx, a.ID, cause.Error()); err != nil {
		s.logger.Error("failed to flag attempt for repair", "error", err, "attempt_id", a.ID)
	}
	s.reportIncident(ctx, a, stage, cause)

	return &CommitError{
		PaymentIntentID: a.PaymentIntentID,
		AttemptID:       a.ID,
		AmountDueMinor:  a.AmountDueMinor,
		Stage:           stage,
		Err:             cause,
	}
}

func (s *Service) reportIncident(ctx context.Context, a *Attempt, stage string, cause error) {
	incident := reconcile.Incident{
		PaymentIntentID: a.PaymentIntentID,
		AttemptID:       a.ID,
		AmountDueMinor:  a.AmountDueMinor,
		Currency:        a.Currency,
		ServiceIDs:      a.ServiceIDs,
		CustomerEmail:   a.Customer.Email,
		Stage:           stage,
		Error:           cause.Error(),
		CreatedAt:       s.now().UTC(),
	}
	if s.incidents != nil {
		recorded, err := s.incidents.Record(ctx, incident)
		if err != nil {
			s.logger.Error("failed to record reconciliation incident", "error", err, "payment_intent_id", a.PaymentIntentID)
		} else {
			incident = recorded
		}
	}
	if s.alerts != nil {
		if err := s.alerts.AlertOperator(ctx, notify.OperatorAlert{
			IncidentID:      incident.ID,
			AttemptID:       a.ID,
			PaymentIntentID: a.PaymentIntentID,
			AmountDueMinor:  a.AmountDueMinor,
			Currency:        a.Currency,
			CustomerEmail:   a.Customer.Email,
			Stage:           stage,
			Err:             cause.Error(),
			OccurredAt:      incident.CreatedAt,
		}); err != nil {
			s.logger.Error("failed to alert operator", "error", err, "payment_intent_id", a.PaymentIntentID)
		}
	}
}

// capture collects a held payment once its booking exists. The booking
// stands even when capture fails; operators settle the hold by hand.
func (s *Service) capture(ctx context.Context, a *Attempt, paymentIntentID string) {
	started := s.now()
	_, err := s.processor.CaptureIntent(ctx, paymentIntentID)
	s.metrics.ObserveProcessorLatency("capture_intent", s.now().Sub(started).Seconds())
	if err == nil {
		return
	}
	s.logger.Error("payment capture failed after booking committed", "error", err, "attempt_id", a.ID, "payment_intent_id", paymentIntentID)
	s.metrics.ObserveIncident()
	s.reportIncident(context.WithoutCancel(ctx), a, "capture", err)
}

// IntentConfirmed implements payments.IntentEventSink. Intents with no
// attempt and failures already handed to operators are acknowledged so the
// processor stops redelivering them.
func (s *Service) IntentConfirmed(ctx context.Context, intentID string) error {
	_, err := s.Finalize(ctx, intentID, SourceWebhook)
	var commitErr *CommitError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAttemptNotFound):
		s.logger.Info("webhook for unknown payment intent", "payment_intent_id", intentID)
		return nil
	case errors.As(err, &commitErr), errors.Is(err, ErrNeedsRepair):
		return nil
	default:
		return err
	}
}

// IntentFailed implements payments.IntentEventSink.
func (s *Service) IntentFailed(ctx context.Context, intentID, reason string) error {
	err := s.attempts.RecordPaymentFailure(ctx, intentID, reason)
	if errors.Is(err, ErrAttemptNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("payment failed", "payment_intent_id", intentID, "reason", reason)
	return nil
}

var _ payments.IntentEventSink = (*Service)(nil)
