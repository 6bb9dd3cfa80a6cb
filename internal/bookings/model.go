package bookings

import (
	"time"

	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/customers"
)

const (
	StatusConfirmed = "confirmed"

	PaymentStatusPaid          = "paid"
	PaymentStatusPartiallyPaid = "partially_paid"
)

// ServiceLine is one service linked to an appointment.
type ServiceLine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Appointment is a committed booking.
type Appointment struct {
	ID              string        `json:"id"`
	CustomerID      string        `json:"customerId"`
	CustomerName    string        `json:"customerName,omitempty"`
	CustomerEmail   string        `json:"customerEmail,omitempty"`
	EmployeeID      string        `json:"employeeId,omitempty"`
	EmployeeName    string        `json:"employeeName,omitempty"`
	Date            string        `json:"date"`
	StartTime       string        `json:"startTime"`
	EndTime         string        `json:"endTime"`
	TotalMinor      int64         `json:"totalMinor"`
	DepositMinor    int64         `json:"depositMinor"`
	TotalAmount     float64       `json:"totalAmount"`
	DepositAmount   float64       `json:"depositAmount"`
	PaymentChoice   string        `json:"paymentChoice"`
	Status          string        `json:"status"`
	PaymentStatus   string        `json:"paymentStatus"`
	PaymentIntentID string        `json:"paymentIntentId"`
	IsGroupBooking  bool          `json:"isGroupBooking"`
	GroupSize       int           `json:"groupSize"`
	Notes           string        `json:"notes,omitempty"`
	Services        []ServiceLine `json:"services"`
	CreatedAt       time.Time     `json:"createdAt"`

	// AlreadyCommitted is set when Commit found an appointment committed
	// earlier for the same payment intent.
	AlreadyCommitted bool `json:"-"`
}

// ServiceNames returns the linked service names in order.
func (a *Appointment) ServiceNames() []string {
	names := make([]string, 0, len(a.Services))
	for _, s := range a.Services {
		names = append(names, s.Name)
	}
	return names
}

func (a *Appointment) fillMajorUnits() {
	a.TotalAmount = catalog.MajorUnits(a.TotalMinor)
	a.DepositAmount = catalog.MajorUnits(a.DepositMinor)
}

// CommitParams carries everything needed to commit a paid booking. Amounts
// are the ones verified with the processor, not recomputed.
type CommitParams struct {
	AttemptID       string
	PaymentIntentID string
	Customer        customers.Details
	ServiceIDs      []string
	Date            string
	StartTime       string
	DurationMinutes int
	TotalMinor      int64
	AmountDueMinor  int64
	Currency        string
	Choice          catalog.PaymentChoice
	IsGroupBooking  bool
	GroupSize       int
	Notes           string
}

// PaymentStatus maps the payment choice onto the appointment payment status.
func (p CommitParams) PaymentStatus() string {
	if p.Choice == catalog.ChoiceFull {
		return PaymentStatusPaid
	}
	return PaymentStatusPartiallyPaid
}
