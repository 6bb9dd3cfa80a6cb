package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest wraps every validation failure of a checkout request.
	ErrInvalidRequest = errors.New("checkout: invalid request")

	// ErrAttemptNotFound is returned when no booking attempt matches.
	ErrAttemptNotFound = errors.New("checkout: booking attempt not found")

	// ErrAttemptConflict is returned when a retried attempt id no longer
	// matches an open attempt with the same amount.
	ErrAttemptConflict = errors.New("checkout: booking attempt conflict")

	// ErrPaymentNotConfirmed is returned while the processor has not yet
	// confirmed the payment.
	ErrPaymentNotConfirmed = errors.New("checkout: payment not confirmed")

	// ErrNeedsRepair is returned for attempts already handed to operators.
	ErrNeedsRepair = errors.New("checkout: booking awaiting manual reconciliation")
)

// CommitError reports that the processor confirmed a payment but the booking
// could not be recorded. The payment must be reconciled by hand.
type CommitError struct {
	PaymentIntentID string
	AttemptID       string
	AmountDueMinor  int64
	Stage           string
	Err             error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("checkout: payment %s confirmed but booking not recorded (%s): %v", e.PaymentIntentID, e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidRequest}, args...)...)
}
