package events

import "time"

// TypeBookingConfirmedV1 is the outbox type for BookingConfirmedV1.
const TypeBookingConfirmedV1 = "booking_confirmed.v1"

// BookingConfirmedV1 is emitted in the same transaction that commits an
// appointment.
type BookingConfirmedV1 struct {
	EventID         string    `json:"event_id"`
	AppointmentID   string    `json:"appointment_id"`
	AttemptID       string    `json:"attempt_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	CustomerID      string    `json:"customer_id"`
	CustomerName    string    `json:"customer_name,omitempty"`
	CustomerEmail   string    `json:"customer_email"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	ServiceNames    []string  `json:"service_names"`
	TotalMinor      int64     `json:"total_minor"`
	AmountPaidMinor int64     `json:"amount_paid_minor"`
	Currency        string    `json:"currency"`
	PaymentChoice   string    `json:"payment_choice"`
	IsGroupBooking  bool      `json:"is_group_booking"`
	GroupSize       int       `json:"group_size"`
	OccurredAt      time.Time `json:"occurred_at"`
}
