package customers

import (
	"net/mail"
	"strings"
	"time"
)

// Customer is a salon client, unique by email.
type Customer struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`

	// Created is true when the row was inserted by this resolution.
	Created bool `json:"-"`
}

// Details are the customer fields collected at checkout.
type Details struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// Normalize trims all fields and lower-cases the email.
func (d Details) Normalize() Details {
	return Details{
		FullName: strings.TrimSpace(d.FullName),
		Email:    NormalizeEmail(d.Email),
		Phone:    strings.TrimSpace(d.Phone),
	}
}

// Validate checks the normalized details.
func (d Details) Validate() error {
	if d.Email == "" {
		return ErrMissingEmail
	}
	addr, err := mail.ParseAddress(d.Email)
	if err != nil || addr.Address != d.Email {
		return ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail is the canonical form used for the uniqueness key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ListFilter narrows the admin customer list.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}
