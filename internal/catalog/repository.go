package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the live price list.
type Repository interface {
	ServicesByIDs(ctx context.Context, ids []string) ([]Service, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListServices(ctx context.Context, categoryID string) ([]Service, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository reads categories and services from Postgres.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("catalog: querier required")
	}
	return &PostgresRepository{db: q}
}

const serviceColumns = `id::text, COALESCE(category_id::text, ''), name, duration, ROUND(price * 100)::bigint, description`

// ServicesByIDs loads the given services in one statement. Missing ids are
// simply absent from the result.
func (r *PostgresRepository) ServicesByIDs(ctx context.Context, ids []string) ([]Service, error) {
	query := `SELECT ` + serviceColumns + `
		FROM services
		WHERE id = ANY($1::uuid[])`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: select services: %w", err)
	}
	return scanServices(rows)
}

// ListServices returns the services of one category, or all services when
// categoryID is empty.
func (r *PostgresRepository) ListServices(ctx context.Context, categoryID string) ([]Service, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if categoryID == "" {
		rows, err = r.db.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name`)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+serviceColumns+` FROM services WHERE category_id = $1::uuid ORDER BY name`, categoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	return scanServices(rows)
}

// ListCategories returns all categories ordered by name.
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id::text, name, icon_name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.IconName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate categories: %w", err)
	}
	return out, nil
}

func scanServices(rows pgx.Rows) ([]Service, error) {
	defer rows.Close()
	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.CategoryID, &s.Name, &s.DurationMinutes, &s.PriceMinor, &s.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate services: %w", err)
	}
	return out, nil
}
