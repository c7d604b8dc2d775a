package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a journal store over pool. The audit_entries table must
// exist; see Migrate.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Append implements Store.
func (s *PgStore) Append(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries (
			id, session_id, subject, action, case_id, outcome, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.SessionID, e.Subject, string(e.Action), e.CaseID,
		string(e.Outcome), e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PgStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, subject, action, case_id, outcome, detail, created_at
		FROM audit_entries
		WHERE ($1 = '' OR session_id = $1)
		  AND ($2 = 0 OR case_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		f.SessionID, f.CaseID, f.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			action  string
			outcome string
		)
		err := row.Scan(&e.ID, &e.SessionID, &e.Subject, &action, &e.CaseID, &outcome, &e.Detail, &e.CreatedAt)
		e.Action = Action(action)
		e.Outcome = Outcome(outcome)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit entries: %w", err)
	}
	return entries, nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
