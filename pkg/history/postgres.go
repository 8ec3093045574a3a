package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// initTimeout bounds connecting, pinging and migrating.
const initTimeout = 15 * time.Second

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL,
		user_text TEXT NOT NULL,
		assistant_text TEXT NOT NULL,
		truncated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns (session_id, created_at)`,
}

// RunMigration creates the history tables if they are missing.
func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, checks the connection and runs
// the migration.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, ErrNoDatabaseURL
	}
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("history: run migration: %w", err)
	}
	return NewPostgresStore(p), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts a turn.
func (s *PostgresStore) Append(ctx context.Context, turn *Turn) error {
	if err := prepare(turn); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, session_id, user_text, assistant_text, truncated, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, turn.SessionID, turn.User, turn.Assistant, turn.Truncated, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: insert turn: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest turns, oldest first.
func (s *PostgresStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, session_id::text, user_text, assistant_text, truncated, created_at FROM (
			SELECT * FROM conversation_turns
			WHERE $1 = '' OR session_id::text = $1
			ORDER BY created_at DESC
			LIMIT $2
		 ) t ORDER BY created_at ASC`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("history: query turns: %w", err)
	}
	defer rows.Close()

	var list []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.User, &t.Assistant, &t.Truncated, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Verify PostgresStore implements Store at compile time.
var _ Store = (*PostgresStore)(nil)
