package catalog

import (
	"fmt"
	"strings"
	"time"
)

// PaymentChoice selects how much of the total is collected up front.
type PaymentChoice string

const (
	ChoiceDeposit PaymentChoice = "deposit"
	ChoiceFull    PaymentChoice = "full"
)

// ChoiceFromDeposit maps the client's isDeposit flag onto a PaymentChoice.
func ChoiceFromDeposit(isDeposit bool) PaymentChoice {
	if isDeposit {
		return ChoiceDeposit
	}
	return ChoiceFull
}

// Valid reports whether c is a known payment choice.
func (c PaymentChoice) Valid() bool {
	return c == ChoiceDeposit || c == ChoiceFull
}

// Category groups services in the booking wizard.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IconName  string    `json:"iconName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service is a bookable treatment. Prices are held in minor units.
type Service struct {
	ID              string `json:"id"`
	CategoryID      string `json:"categoryId,omitempty"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration"`
	PriceMinor      int64  `json:"priceMinor"`
	Description     string `json:"description,omitempty"`
}

// Price returns the service price in major units for display.
func (s Service) Price() float64 {
	return MajorUnits(s.PriceMinor)
}

// Quote is the authoritative price for a set of services.
type Quote struct {
	Services        []Service
	TotalMinor      int64
	AmountDueMinor  int64
	Choice          PaymentChoice
	DurationMinutes int
}

// ServiceIDs returns the ids of the quoted services in quote order.
func (q *Quote) ServiceIDs() []string {
	ids := make([]string, 0, len(q.Services))
	for _, svc := range q.Services {
		ids = append(ids, svc.ID)
	}
	return ids
}

// ServiceNames returns a comma-separated list of the quoted service names.
func (q *Quote) ServiceNames() string {
	names := make([]string, 0, len(q.Services))
	for _, svc := range q.Services {
		names = append(names, svc.Name)
	}
	return strings.Join(names, ", ")
}

// MajorUnits converts minor units (pence) into major units.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}

// FormatMajor renders minor units as a fixed two-decimal string, e.g. "40.00".
func FormatMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
