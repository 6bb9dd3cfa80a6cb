package payments

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrVelocityExceeded is returned when a customer has started too many
// payment authorizations inside the velocity window.
var ErrVelocityExceeded = errors.New("payments: too many payment attempts")

// ProcessorError describes a failed call to the card processor. Message is
// the processor's own text and is passed through unchanged.
type ProcessorError struct {
	Code        string
	DeclineCode string
	Message     string
	Status      int
	Err         error
}

func (e *ProcessorError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("payments: stripe status %d: %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("payments: stripe: %s: %v", e.Message, e.Err)
	default:
		return "payments: stripe: " + e.Message
	}
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// Declined reports whether the processor refused the card rather than
// failing to process the request.
func (e *ProcessorError) Declined() bool {
	return e.Status == http.StatusPaymentRequired || e.Code == "card_declined" || e.DeclineCode != ""
}
