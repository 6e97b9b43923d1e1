package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const sourceColumns = `graph, url, status, chunk_count, triple_count, attempts, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*Source, error) {
	s := &Source{}
	if err := row.Scan(&s.Graph, &s.URL, &s.Status, &s.Chunks, &s.Triples, &s.Attempts, &s.LastError, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Get(ctx context.Context, graph, url string) (*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE graph = $1 AND url = $2`
	s, err := scanSource(r.db.QueryRowContext(ctx, query, graph, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return s, nil
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, graph, url string) error {
	query := `INSERT INTO sources (graph, url, status, attempts) VALUES ($1, $2, $3, 1)
ON CONFLICT (graph, url) DO UPDATE SET status = EXCLUDED.status, attempts = sources.attempts + 1, last_error = '', updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, graph, url, StatusProcessing)
	return err
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, graph, url string, chunks, triples int) error {
	query := `UPDATE sources SET status = $1, chunk_count = $2, triple_count = $3, last_error = '', updated_at = NOW() WHERE graph = $4 AND url = $5`
	return r.update(ctx, query, StatusCompleted, chunks, triples, graph, url)
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, graph, url, reason string) error {
	query := `UPDATE sources SET status = $1, last_error = $2, updated_at = NOW() WHERE graph = $3 AND url = $4`
	return r.update(ctx, query, StatusFailed, reason, graph, url)
}

func (r *PostgresRepo) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, graph string) ([]Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE graph = $1 ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query, graph)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}
