package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/events"
	"github.com/wolfman30/salon-booking/pkg/logging"
)

// OperatorAlert describes a payment that was taken without a booking being
// recorded. Operators reconcile it by hand.
type OperatorAlert struct {
	IncidentID      string
	AttemptID       string
	PaymentIntentID string
	AmountDueMinor  int64
	Currency        string
	CustomerEmail   string
	Stage           string
	Err             string
	OccurredAt      time.Time
}

// Service turns outbox events into customer emails and sends operator alerts.
type Service struct {
	sender        EmailSender
	operatorEmail string
	replyTo       string
	logger        *logging.Logger
}

// NewService builds a notifier. operatorEmail may be empty, in which case
// alerts are only logged.
func NewService(sender EmailSender, operatorEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if sender == nil {
		sender = NewStubEmailSender(logger)
	}
	return &Service{
		sender:        sender,
		operatorEmail: strings.TrimSpace(operatorEmail),
		logger:        logger,
	}
}

// WithReplyTo sets the address customers reach when they answer a
// confirmation email.
func (s *Service) WithReplyTo(addr string) *Service {
	s.replyTo = strings.TrimSpace(addr)
	return s
}

// Handle implements events.DeliveryHandler.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	switch entry.Type {
	case events.TypeBookingConfirmedV1:
		var evt events.BookingConfirmedV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
		}
		return s.sendConfirmation(ctx, evt)
	default:
		s.logger.Warn("notify: ignoring unknown outbox event", "type", entry.Type, "id", entry.ID)
		return nil
	}
}

func (s *Service) sendConfirmation(ctx context.Context, evt events.BookingConfirmedV1) error {
	if strings.TrimSpace(evt.CustomerEmail) == "" {
		s.logger.Warn("notify: booking has no customer email", "appointment_id", evt.AppointmentID)
		return nil
	}
	msg := confirmationMessage(evt)
	msg.ReplyTo = s.replyTo
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send confirmation for %s: %w", evt.AppointmentID, err)
	}
	return nil
}

func confirmationMessage(evt events.BookingConfirmedV1) EmailMessage {
	services := strings.Join(evt.ServiceNames, ", ")
	currency := strings.ToUpper(evt.Currency)
	paid := catalog.FormatMajor(evt.AmountPaidMinor)
	total := catalog.FormatMajor(evt.TotalMinor)

	var body strings.Builder
	greeting := "Hi"
	if evt.CustomerName != "" {
		greeting = "Hi " + evt.CustomerName
	}
	fmt.Fprintf(&body, "%s,\n\nYour appointment is confirmed.\n\n", greeting)
	fmt.Fprintf(&body, "Date: %s\nTime: %s - %s\nServices: %s\n", evt.Date, evt.StartTime, evt.EndTime, services)
	if evt.IsGroupBooking {
		fmt.Fprintf(&body, "Group size: %d\n", evt.GroupSize)
	}
	fmt.Fprintf(&body, "Paid: %s %s of %s %s\n", paid, currency, total, currency)
	if evt.AmountPaidMinor < evt.TotalMinor {
		fmt.Fprintf(&body, "Balance due at the salon: %s %s\n", catalog.FormatMajor(evt.TotalMinor-evt.AmountPaidMinor), currency)
	}
	fmt.Fprintf(&body, "\nReference: %s\n", evt.AppointmentID)

	htmlBody := "<p>" + strings.ReplaceAll(html.EscapeString(body.String()), "\n", "<br>") + "</p>"

	return EmailMessage{
		To:      evt.CustomerEmail,
		ToName:  evt.CustomerName,
		Subject: fmt.Sprintf("Booking confirmed for %s at %s", evt.Date, evt.StartTime),
		Body:    body.String(),
		HTML:    htmlBody,
		Tags: map[string]string{
			"kind":           "booking_confirmed",
			"appointment_id": evt.AppointmentID,
		},
	}
}

// AlertOperator emails the configured operator address about a payment with
// no booking. The alert is always logged so it survives a failed send.
func (s *Service) AlertOperator(ctx context.Context, alert OperatorAlert) error {
	s.logger.Error("operator alert: payment without booking",
		"incident_id", alert.IncidentID,
		"attempt_id", alert.AttemptID,
		"payment_intent_id", alert.PaymentIntentID,
		"amount_minor", alert.AmountDueMinor,
		"stage", alert.Stage,
	)
	if s.operatorEmail == "" {
		return nil
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	body := fmt.Sprintf(
		"A payment was confirmed but the booking could not be recorded.\n\n"+
			"Payment intent: %s\nAttempt: %s\nAmount: %s %s\nCustomer: %s\nStage: %s\nError: %s\nIncident: %s\nAt: %s\n",
		alert.PaymentIntentID,
		alert.AttemptID,
		catalog.FormatMajor(alert.AmountDueMinor), strings.ToUpper(alert.Currency),
		alert.CustomerEmail,
		alert.Stage,
		alert.Err,
		alert.IncidentID,
		alert.OccurredAt.Format(time.RFC3339),
	)
	err := s.sender.Send(ctx, EmailMessage{
		To:      s.operatorEmail,
		Subject: "Action needed: payment " + alert.PaymentIntentID + " has no booking",
		Body:    body,
		Tags: map[string]string{
			"kind":        "reconciliation_incident",
			"incident_id": alert.IncidentID,
		},
	})
	if err != nil {
		return fmt.Errorf("notify: operator alert: %w", err)
	}
	return nil
}

var _ events.DeliveryHandler = (*Service)(nil)
