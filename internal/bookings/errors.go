package bookings

import "errors"

var (
	// ErrNoServices is returned when a commit has no services to link.
	ErrNoServices = errors.New("bookings: at least one service is required")

	// ErrIncompleteLinks is returned when fewer service links were written than requested.
	ErrIncompleteLinks = errors.New("bookings: not every service could be linked")

	// ErrAttemptNotAuthorized is returned when the attempt is not in the authorized state at commit.
	ErrAttemptNotAuthorized = errors.New("bookings: booking attempt is not authorized")

	// ErrAppointmentNotFound is returned when no appointment matches.
	ErrAppointmentNotFound = errors.New("bookings: appointment not found")

	// ErrInvalidSlot is returned for unparseable dates/times or slots that run past midnight.
	ErrInvalidSlot = errors.New("bookings: invalid appointment slot")
)
