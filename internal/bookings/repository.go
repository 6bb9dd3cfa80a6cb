package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/salon-booking/internal/customers"
	"github.com/wolfman30/salon-booking/internal/events"
)

const paymentIntentConstraint = "appointments_stripe_payment_intent_id_key"

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository commits appointments and reads them back for the admin views.
type Repository struct {
	db  db
	now func() time.Time
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: pool, now: time.Now}
}

func newRepositoryWithDB(d db) *Repository {
	if d == nil {
		panic("bookings: db required")
	}
	return &Repository{db: d, now: time.Now}
}

// Commit writes the customer, appointment, service links, attempt state and
// confirmation event in one transaction. Any failure rolls back all of it.
// When the payment intent was already committed by a concurrent path the
// existing appointment is returned with AlreadyCommitted set.
func (r *Repository) Commit(ctx context.Context, p CommitParams) (*Appointment, error) {
	if len(p.ServiceIDs) == 0 {
		return nil, ErrNoServices
	}
	endTime, err := EndTime(p.StartTime, p.DurationMinutes)
	if err != nil {
		return nil, err
	}
	startMin, _ := ParseClock(p.StartTime)
	groupSize := p.GroupSize
	if groupSize < 1 {
		groupSize = 1
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	customer, err := customers.NewRepositoryWithQuerier(tx).Resolve(ctx, p.Customer)
	if err != nil {
		return nil, fmt.Errorf("bookings: resolve customer: %w", err)
	}

	appt := &Appointment{
		CustomerID:      customer.ID,
		CustomerName:    customer.FullName,
		CustomerEmail:   customer.Email,
		Date:            p.Date,
		StartTime:       FormatClock(startMin),
		EndTime:         endTime,
		TotalMinor:      p.TotalMinor,
		DepositMinor:    p.AmountDueMinor,
		PaymentChoice:   string(p.Choice),
		Status:          StatusConfirmed,
		PaymentStatus:   p.PaymentStatus(),
		PaymentIntentID: p.PaymentIntentID,
		IsGroupBooking:  p.IsGroupBooking,
		GroupSize:       groupSize,
		Notes:           p.Notes,
	}

	insertAppointment := `
		INSERT INTO appointments (
			customer_id, appointment_date, start_time, end_time,
			total_amount, deposit_amount, payment_choice, status, payment_status,
			stripe_payment_intent_id, is_group_booking, group_size, notes
		)
		VALUES ($1::uuid, $2::date, $3::time, $4::time, $5::bigint / 100.0, $6::bigint / 100.0, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id::text, created_at
	`
	if err := tx.QueryRow(ctx, insertAppointment,
		appt.CustomerID,
		appt.Date,
		appt.StartTime,
		appt.EndTime,
		appt.TotalMinor,
		appt.DepositMinor,
		appt.PaymentChoice,
		appt.Status,
		appt.PaymentStatus,
		appt.PaymentIntentID,
		appt.IsGroupBooking,
		appt.GroupSize,
		appt.Notes,
	).Scan(&appt.ID, &appt.CreatedAt); err != nil {
		if isPaymentIntentConflict(err) {
			_ = tx.Rollback(ctx)
			existing, getErr := r.GetByPaymentIntent(ctx, p.PaymentIntentID)
			if getErr != nil {
				return nil, fmt.Errorf("bookings: load committed appointment: %w", getErr)
			}
			existing.AlreadyCommitted = true
			return existing, nil
		}
		return nil, fmt.Errorf("bookings: insert appointment: %w", err)
	}

	links, err := linkServices(ctx, tx, appt.ID, p.ServiceIDs)
	if err != nil {
		return nil, err
	}
	appt.Services = links

	if p.AttemptID != "" {
		ct, err := tx.Exec(ctx, `
			UPDATE booking_attempts
			SET status = 'committed', appointment_id = $2::uuid, updated_at = now()
			WHERE id = $1::uuid AND status = 'authorized'
		`, p.AttemptID, appt.ID)
		if err != nil {
			return nil, fmt.Errorf("bookings: mark attempt committed: %w", err)
		}
		if ct.RowsAffected() != 1 {
			return nil, ErrAttemptNotAuthorized
		}
	}

	event := events.BookingConfirmedV1{
		EventID:         uuid.NewString(),
		AppointmentID:   appt.ID,
		AttemptID:       p.AttemptID,
		PaymentIntentID: appt.PaymentIntentID,
		CustomerID:      customer.ID,
		CustomerName:    customer.FullName,
		CustomerEmail:   customer.Email,
		Date:            appt.Date,
		StartTime:       appt.StartTime,
		EndTime:         appt.EndTime,
		ServiceNames:    appt.ServiceNames(),
		TotalMinor:      appt.TotalMinor,
		AmountPaidMinor: appt.DepositMinor,
		Currency:        p.Currency,
		PaymentChoice:   appt.PaymentChoice,
		IsGroupBooking:  appt.IsGroupBooking,
		GroupSize:       appt.GroupSize,
		OccurredAt:      r.now().UTC(),
	}
	if _, err := events.InsertOutbox(ctx, tx, events.TypeBookingConfirmedV1, event); err != nil {
		return nil, fmt.Errorf("bookings: enqueue confirmation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bookings: commit: %w", err)
	}

	appt.fillMajorUnits()
	return appt, nil
}

// linkServices inserts one appointment_services row per service and returns
// the linked services with their names.
func linkServices(ctx context.Context, tx pgx.Tx, appointmentID string, serviceIDs []string) ([]ServiceLine, error) {
	query := `
		WITH linked AS (
			INSERT INTO appointment_services (appointment_id, service_id)
			SELECT $1::uuid, unnest($2::uuid[])
			RETURNING service_id
		)
		SELECT linked.service_id::text, s.name
		FROM linked
		JOIN services s ON s.id = linked.service_id
	`
	rows, err := tx.Query(ctx, query, appointmentID, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("bookings: link services: %w", err)
	}
	defer rows.Close()

	var links []ServiceLine
	for rows.Next() {
		var line ServiceLine
		if err := rows.Scan(&line.ID, &line.Name); err != nil {
			return nil, fmt.Errorf("bookings: scan service link: %w", err)
		}
		links = append(links, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: link services: %w", err)
	}
	if len(links) != len(serviceIDs) {
		return nil, fmt.Errorf("%w: linked %d of %d", ErrIncompleteLinks, len(links), len(serviceIDs))
	}
	return links, nil
}

func isPaymentIntentConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (pgErr.ConstraintName == "" || pgErr.ConstraintName == paymentIntentConstraint)
}

const appointmentSelect = `
	SELECT
		a.id::text,
		a.customer_id::text,
		c.full_name,
		c.email,
		COALESCE(a.employee_id::text, ''),
		COALESCE(e.full_name, ''),
		to_char(a.appointment_date, 'YYYY-MM-DD'),
		to_char(a.start_time, 'HH24:MI'),
		to_char(a.end_time, 'HH24:MI'),
		ROUND(a.total_amount * 100)::bigint,
		ROUND(a.deposit_amount * 100)::bigint,
		a.payment_choice,
		a.status,
		a.payment_status,
		a.stripe_payment_intent_id,
		a.is_group_booking,
		a.group_size,
		a.notes,
		a.created_at,
		COALESCE(array_agg(s.id::text ORDER BY s.name) FILTER (WHERE s.id IS NOT NULL), '{}'),
		COALESCE(array_agg(s.name ORDER BY s.name) FILTER (WHERE s.id IS NOT NULL), '{}')
	FROM appointments a
	JOIN customers c ON c.id = a.customer_id
	LEFT JOIN employees e ON e.id = a.employee_id
	LEFT JOIN appointment_services l ON l.appointment_id = a.id
	LEFT JOIN services s ON s.id = l.service_id
`

// GetByPaymentIntent loads the appointment correlated with a payment intent.
func (r *Repository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*Appointment, error) {
	rows, err := r.db.Query(ctx, appointmentSelect+`
		WHERE a.stripe_payment_intent_id = $1
		GROUP BY a.id, c.id, e.id
	`, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("bookings: load by payment intent: %w", err)
	}
	list, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrAppointmentNotFound
	}
	return &list[0], nil
}

// ListForDate returns the calendar for one day ordered by start time.
func (r *Repository) ListForDate(ctx context.Context, date string) ([]Appointment, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, appointmentSelect+`
		WHERE a.appointment_date = $1::date
		GROUP BY a.id, c.id, e.id
		ORDER BY a.start_time
	`, date)
	if err != nil {
		return nil, fmt.Errorf("bookings: list for date: %w", err)
	}
	return scanAppointments(rows)
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	out := []Appointment{}
	for rows.Next() {
		var (
			a     Appointment
			ids   []string
			names []string
		)
		if err := rows.Scan(
			&a.ID,
			&a.CustomerID,
			&a.CustomerName,
			&a.CustomerEmail,
			&a.EmployeeID,
			&a.EmployeeName,
			&a.Date,
			&a.StartTime,
			&a.EndTime,
			&a.TotalMinor,
			&a.DepositMinor,
			&a.PaymentChoice,
			&a.Status,
			&a.PaymentStatus,
			&a.PaymentIntentID,
			&a.IsGroupBooking,
			&a.GroupSize,
			&a.Notes,
			&a.CreatedAt,
			&ids,
			&names,
		); err != nil {
			return nil, fmt.Errorf("bookings: scan appointment: %w", err)
		}
		a.Services = make([]ServiceLine, 0, len(ids))
		for i := range ids {
			line := ServiceLine{ID: ids[i]}
			if i < len(names) {
				line.Name = names[i]
			}
			a.Services = append(a.Services, line)
		}
		a.fillMajorUnits()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate appointments: %w", err)
	}
	return out, nil
}
