package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores customers in Postgres.
type PostgresRepository struct {
	db Querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("customers: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewRepositoryWithQuerier binds the repository to q, typically a pgx.Tx so
// resolution joins the caller's transaction.
func NewRepositoryWithQuerier(q Querier) *PostgresRepository {
	if q == nil {
		panic("customers: querier required")
	}
	return &PostgresRepository{db: q}
}

const resolveQuery = `
	INSERT INTO customers (full_name, email, phone)
	VALUES ($1, $2, $3)
	ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
	RETURNING id::text, full_name, email, phone, created_at, (xmax = 0) AS inserted
`

// Resolve returns the customer for details.Email, creating it when absent.
// It is a single upsert so concurrent callers with the same email always get
// the same id. Existing names and phone numbers are left untouched.
func (r *PostgresRepository) Resolve(ctx context.Context, details Details) (*Customer, error) {
	details = details.Normalize()
	if err := details.Validate(); err != nil {
		return nil, err
	}

	var c Customer
	if err := r.db.QueryRow(ctx, resolveQuery, details.FullName, details.Email, details.Phone).Scan(
		&c.ID,
		&c.FullName,
		&c.Email,
		&c.Phone,
		&c.CreatedAt,
		&c.Created,
	); err != nil {
		return nil, &PersistenceError{Op: "resolve", Err: err}
	}
	return &c, nil
}

// GetByEmail fetches a customer by normalized email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	query := `
		SELECT id::text, full_name, email, phone, created_at
		FROM customers
		WHERE email = $1
	`
	var c Customer
	if err := r.db.QueryRow(ctx, query, NormalizeEmail(email)).Scan(&c.ID, &c.FullName, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("customers: select by email: %w", err)
	}
	return &c, nil
}

// List returns customers newest first, optionally filtered by a search term
// matched against name, email and phone.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Customer, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id::text, full_name, email, phone, created_at
		FROM customers
	`
	args := []any{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		query += ` WHERE full_name ILIKE $1 OR email ILIKE $1 OR phone ILIKE $1`
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("customers: list: %w", err)
	}
	defer rows.Close()

	out := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.FullName, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("customers: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("customers: iterate: %w", err)
	}
	return out, nil
}
