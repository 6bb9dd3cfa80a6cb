package customers

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingEmail is returned when no email was supplied
	ErrMissingEmail = errors.New("customers: email is required")

	// ErrInvalidEmail is returned when the email is not a single plain address
	ErrInvalidEmail = errors.New("customers: email is invalid")

	// ErrCustomerNotFound is returned when a customer is not found
	ErrCustomerNotFound = errors.New("customers: customer not found")
)

// PersistenceError wraps a store failure during customer resolution.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("customers: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
