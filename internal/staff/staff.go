// Package staff exposes the salon's employees and their weekly hours.
package staff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidEmployeeID is returned for ids that are not uuids.
var ErrInvalidEmployeeID = errors.New("staff: invalid employee id")

const (
	defaultStart = "09:00"
	defaultEnd   = "17:00"
)

// Employee is a member of staff.
type Employee struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Availability is one weekday of an employee's schedule. DayOfWeek follows
// time.Weekday (0 = Sunday).
type Availability struct {
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	IsWorking bool   `json:"isWorking"`
	Default   bool   `json:"isDefault"`
}

// DefaultDay is the schedule used when an employee has no row for a weekday:
// 09:00-17:00 Monday to Saturday, Sunday off.
func DefaultDay(day time.Weekday) Availability {
	return Availability{
		DayOfWeek: int(day),
		StartTime: defaultStart,
		EndTime:   defaultEnd,
		IsWorking: day != time.Sunday,
		Default:   true,
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads employees and availability from Postgres.
type Repository struct {
	db querier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("staff: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	return &Repository{db: q}
}

// ListEmployees returns employees ordered by name; inactive ones only when
// includeInactive is set.
func (r *Repository) ListEmployees(ctx context.Context, includeInactive bool) ([]Employee, error) {
	query := `SELECT id::text, full_name, role, email, phone, is_active, created_at FROM employees`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY full_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("staff: list employees: %w", err)
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.FullName, &e.Role, &e.Email, &e.Phone, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("staff: scan employee: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("staff: list employees: %w", err)
	}
	return out, nil
}

// WeeklyAvailability returns seven entries, Sunday first. Days without a
// stored row fall back to DefaultDay.
func (r *Repository) WeeklyAvailability(ctx context.Context, employeeID string) ([]Availability, error) {
	if _, err := uuid.Parse(employeeID); err != nil {
		return nil, ErrInvalidEmployeeID
	}
	rows, err := r.db.Query(ctx, `
		SELECT day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_working
		FROM availability
		WHERE employee_id = $1::uuid`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("staff: select availability: %w", err)
	}
	defer rows.Close()

	week := make([]Availability, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		week[d] = DefaultDay(d)
	}
	for rows.Next() {
		var a Availability
		var day int16
		if err := rows.Scan(&day, &a.StartTime, &a.EndTime, &a.IsWorking); err != nil {
			return nil, fmt.Errorf("staff: scan availability: %w", err)
		}
		if day < 0 || day > 6 {
			continue
		}
		a.DayOfWeek = int(day)
		week[day] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("staff: select availability: %w", err)
	}
	return week, nil
}
