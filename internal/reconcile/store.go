// Package reconcile records payments that were confirmed by the processor but
// never became appointments, so operators can settle them by hand.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrIncidentNotFound is returned when resolving an unknown or already
// resolved incident.
var ErrIncidentNotFound = errors.New("reconcile: incident not found")

// Incident is one payment awaiting manual reconciliation.
type Incident struct {
	ID              string     `json:"id"`
	PaymentIntentID string     `json:"paymentIntentId"`
	AttemptID       string     `json:"attemptId,omitempty"`
	AmountDueMinor  int64      `json:"amountDueMinor"`
	Currency        string     `json:"currency"`
	ServiceIDs      []string   `json:"serviceIds"`
	CustomerEmail   string     `json:"customerEmail,omitempty"`
	Stage           string     `json:"stage"`
	Error           string     `json:"error"`
	CreatedAt       time.Time  `json:"createdAt"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// Filter narrows incident listings.
type Filter struct {
	IncludeResolved bool
	Limit           int
	Offset          int
}

// IncidentStore persists incidents through database/sql.
type IncidentStore struct {
	db *sql.DB
}

// NewIncidentStore creates a store over db.
func NewIncidentStore(db *sql.DB) *IncidentStore {
	if db == nil {
		panic("reconcile: db cannot be nil")
	}
	return &IncidentStore{db: db}
}

// Record inserts an incident, filling ID and CreatedAt when empty.
func (s *IncidentStore) Record(ctx context.Context, inc Incident) (Incident, error) {
	if inc.PaymentIntentID == "" {
		return inc, errors.New("reconcile: payment intent id required")
	}
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	if inc.ServiceIDs == nil {
		inc.ServiceIDs = []string{}
	}

	query := `
		INSERT INTO reconciliation_incidents (
			id, payment_intent_id, attempt_id, amount_due_minor, currency,
			service_ids, customer_email, stage, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::uuid[], $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		inc.ID,
		inc.PaymentIntentID,
		nullString(inc.AttemptID),
		inc.AmountDueMinor,
		inc.Currency,
		pq.Array(inc.ServiceIDs),
		inc.CustomerEmail,
		inc.Stage,
		inc.Error,
		inc.CreatedAt,
	)
	if err != nil {
		return inc, fmt.Errorf("reconcile: record incident: %w", err)
	}
	return inc, nil
}

// List returns incidents newest first; open ones only unless the filter says
// otherwise.
func (s *IncidentStore) List(ctx context.Context, filter Filter) ([]Incident, error) {
	query := `
		SELECT id::text, payment_intent_id, attempt_id::text, amount_due_minor, currency,
			   service_ids::text[], customer_email, stage, error, created_at, resolved_at
		FROM reconciliation_incidents
	`
	if !filter.IncludeResolved {
		query += " WHERE resolved_at IS NULL"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		var attemptID sql.NullString
		var resolvedAt sql.NullTime
		var serviceIDs pq.StringArray
		if err := rows.Scan(
			&inc.ID, &inc.PaymentIntentID, &attemptID, &inc.AmountDueMinor, &inc.Currency,
			&serviceIDs, &inc.CustomerEmail, &inc.Stage, &inc.Error, &inc.CreatedAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("reconcile: scan incident: %w", err)
		}
		inc.AttemptID = attemptID.String
		inc.ServiceIDs = []string(serviceIDs)
		if inc.ServiceIDs == nil {
			inc.ServiceIDs = []string{}
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			inc.ResolvedAt = &t
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: iterate incidents: %w", err)
	}
	return out, nil
}

// Resolve marks an open incident as settled.
func (s *IncidentStore) Resolve(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrIncidentNotFound
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reconciliation_incidents SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("reconcile: resolve incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reconcile: resolve incident: %w", err)
	}
	if n == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
