package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/customers"
)

// Attempt states. Transitions are compare-and-set updates in AttemptStore.
const (
	StatusPriced         = "priced"
	StatusPaymentPending = "payment_pending"
	StatusAuthorized     = "authorized"
	StatusCommitted      = "committed"
	StatusFailed         = "failed"
	StatusNeedsRepair    = "needs_repair"
)

// Attempt is one customer's path from a priced cart to a committed booking.
type Attempt struct {
	ID              string
	Status          string
	ServiceIDs      []string
	TotalMinor      int64
	AmountDueMinor  int64
	Currency        string
	Choice          catalog.PaymentChoice
	Customer        customers.Details
	Date            string
	StartTime       string
	DurationMinutes int
	IsGroupBooking  bool
	GroupSize       int
	Notes           string
	PaymentIntentID string
	AppointmentID   string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open reports whether the attempt may still be (re)authorized.
func (a *Attempt) Open() bool {
	return a.Status == StatusPriced || a.Status == StatusPaymentPending
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AttemptStore persists booking attempts.
type AttemptStore struct {
	db querier
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	if pool == nil {
		panic("checkout: pgx pool required")
	}
	return &AttemptStore{db: pool}
}

func newAttemptStoreWithQuerier(q querier) *AttemptStore {
	if q == nil {
		panic("checkout: querier required")
	}
	return &AttemptStore{db: q}
}

// Create inserts a priced attempt. It returns false without error when an
// attempt with the same id already exists.
func (s *AttemptStore) Create(ctx context.Context, a *Attempt) (bool, error) {
	query := `
		INSERT INTO booking_attempts (
			id, status, service_ids, total_minor, amount_due_minor, currency, payment_choice,
			customer_email, customer_name, customer_phone, appointment_date, start_time,
			duration_minutes, is_group_booking, group_size, notes
		) VALUES ($1::uuid, $2, $3::uuid[], $4, $5, $6, $7, $8, $9, $10, $11::date, $12::time, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query,
		a.ID,
		StatusPriced,
		a.ServiceIDs,
		a.TotalMinor,
		a.AmountDueMinor,
		a.Currency,
		string(a.Choice),
		a.Customer.Email,
		a.Customer.FullName,
		a.Customer.Phone,
		a.Date,
		a.StartTime,
		a.DurationMinutes,
		a.IsGroupBooking,
		a.GroupSize,
		a.Notes,
	)
	if err != nil {
		return false, fmt.Errorf("checkout: insert attempt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	a.Status = StatusPriced
	return true, nil
}

const attemptColumns = `
	id::text, status, service_ids::text[], total_minor, amount_due_minor, currency, payment_choice,
	customer_email, customer_name, customer_phone, to_char(appointment_date, 'YYYY-MM-DD'),
	to_char(start_time, 'HH24:MI'), duration_minutes, is_group_booking, group_size, notes,
	COALESCE(payment_intent_id, ''), COALESCE(appointment_id::text, ''), failure_reason, created_at, updated_at
`

// Get loads an attempt by id.
func (s *AttemptStore) Get(ctx context.Context, id string) (*Attempt, error) {
	return s.scanOne(ctx, `SELECT `+attemptColumns+` FROM booking_attempts WHERE id = $1::uuid`, id)
}

// GetByPaymentIntent loads the attempt that created a payment intent.
func (s *AttemptStore) GetByPaymentIntent(ctx context.Context, intentID string) (*Attempt, error) {
	return s.scanOne(ctx, `SELECT `+attemptColumns+` FROM booking_attempts WHERE payment_intent_id = $1`, intentID)
}

func (s *AttemptStore) scanOne(ctx context.Context, query string, arg string) (*Attempt, error) {
	var a Attempt
	var choice string
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Status, &a.ServiceIDs, &a.TotalMinor, &a.AmountDueMinor, &a.Currency, &choice,
		&a.Customer.Email, &a.Customer.FullName, &a.Customer.Phone, &a.Date,
		&a.StartTime, &a.DurationMinutes, &a.IsGroupBooking, &a.GroupSize, &a.Notes,
		&a.PaymentIntentID, &a.AppointmentID, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkout: select attempt: %w", err)
	}
	a.Choice = catalog.PaymentChoice(choice)
	return &a, nil
}

// SetPaymentPending records the processor intent on an open attempt.
func (s *AttemptStore) SetPaymentPending(ctx context.Context, id, intentID string) error {
	return s.transition(ctx, `
		UPDATE booking_attempts
		SET status = 'payment_pending', payment_intent_id = $2, failure_reason = '', updated_at = now()
		WHERE id = $1::uuid AND status IN ('priced', 'payment_pending')
	`, id, intentID)
}

// MarkAuthorized moves an attempt whose payment the processor confirmed to
// authorized. Re-marking an authorized attempt is allowed so a finalize that
// stopped half way can run again.
func (s *AttemptStore) MarkAuthorized(ctx context.Context, id string) error {
	return s.transition(ctx, `
		UPDATE booking_attempts
		SET status = 'authorized', updated_at = now()
		WHERE id = $1::uuid AND status IN ('payment_pending', 'authorized')
	`, id)
}

// MarkFailed closes an attempt that never reached the processor. Attempts
// holding an intent stay open since the customer can still confirm it.
func (s *AttemptStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, `
		UPDATE booking_attempts
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1::uuid AND status = 'priced'
	`, id, reason)
}

// MarkNeedsRepair flags an attempt whose payment was taken without a booking.
func (s *AttemptStore) MarkNeedsRepair(ctx context.Context, id, reason string) error {
	return s.transition(ctx, `
		UPDATE booking_attempts
		SET status = 'needs_repair', failure_reason = $2, updated_at = now()
		WHERE id = $1::uuid AND status IN ('payment_pending', 'authorized', 'failed')
	`, id, reason)
}

// RecordPaymentFailure notes a declined confirmation. The attempt stays
// payment_pending since the customer may retry on the same intent.
func (s *AttemptStore) RecordPaymentFailure(ctx context.Context, intentID, reason string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE booking_attempts
		SET failure_reason = $2, updated_at = now()
		WHERE payment_intent_id = $1 AND status = 'payment_pending'
	`, intentID, reason)
	if err != nil {
		return fmt.Errorf("checkout: record payment failure: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

var errStaleTransition = errors.New("checkout: attempt not in expected state")

func (s *AttemptStore) transition(ctx context.Context, query string, args ...any) error {
	ct, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("checkout: update attempt: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return errStaleTransition
	}
	return nil
}
