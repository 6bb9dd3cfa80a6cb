package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyRequest is returned when no service ids were supplied.
	ErrEmptyRequest = errors.New("catalog: at least one service id is required")

	// ErrInvalidServiceID is returned when a service id is not a uuid.
	ErrInvalidServiceID = errors.New("catalog: invalid service id")
)

// ServiceNotFoundError lists requested ids that do not exist in the catalog.
type ServiceNotFoundError struct {
	IDs []string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("catalog: services not found: %s", strings.Join(e.IDs, ", "))
}

// StoreUnavailableError wraps a backend failure while reading prices.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("catalog: price store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
