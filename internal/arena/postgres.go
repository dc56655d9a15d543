package arena

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists entries in a single table. It is the choice for
// deployments running more than one server instance, where a shared file
// is impractical.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the submissions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS arena_entries (
    id             TEXT PRIMARY KEY,
    occasion       TEXT NOT NULL,
    budget         TEXT NOT NULL DEFAULT '',
    overall_rating DOUBLE PRECISION NOT NULL,
    summary        TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS arena_entries_rating_idx
    ON arena_entries (overall_rating DESC, created_at DESC);
`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("arena: ensure schema: %w", err)
	}
	return nil
}

// Append inserts one entry.
func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	query := `
INSERT INTO arena_entries (id, occasion, budget, overall_rating, summary, created_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.Occasion,
		entry.Budget,
		entry.OverallRating,
		entry.Summary,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("arena: insert entry: %w", err)
	}
	return nil
}

// Leaderboard returns the highest-rated entries, best first.
func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	query := `
SELECT id, occasion, budget, overall_rating, summary, created_at
FROM arena_entries
ORDER BY overall_rating DESC, created_at DESC
LIMIT $1;
`
	rows, err := s.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("arena: query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.Occasion,
			&entry.Budget,
			&entry.OverallRating,
			&entry.Summary,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("arena: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("arena: read leaderboard: %w", err)
	}
	return entries, nil
}
