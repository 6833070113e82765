// Package store persists committed conversation turns to PostgreSQL.
//
// The turn log is an append-only record of everything said in a session,
// one row per committed [transcript.Turn]. It exists for review and
// debugging of live sessions; nothing on the audio path reads from it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liveline-audio/liveline/internal/transcript"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS session_turns (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    committed_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_turns_session_id
    ON session_turns (session_id);

CREATE INDEX IF NOT EXISTS idx_session_turns_session_committed
    ON session_turns (session_id, committed_at);
`

// Entry is one persisted turn as read back from the log.
type Entry struct {
	SessionID   string
	Role        transcript.Role
	Text        string
	CommittedAt time.Time
}

// Store is the PostgreSQL-backed turn log. Obtain one via [New].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and ensures the turn log schema
// exists. The migration is idempotent and safe to run on every start.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("turn store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turn store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turn store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("turn store: ping: %w", err)
	}
	return nil
}

// WriteTurn appends one committed turn to the log under sessionID.
func (s *Store) WriteTurn(ctx context.Context, sessionID string, turn transcript.Turn) error {
	const q = `
		INSERT INTO session_turns (session_id, role, text, committed_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, sessionID, string(turn.Role), turn.Text, turn.CommittedAt)
	if err != nil {
		return fmt.Errorf("turn store: write turn: %w", err)
	}
	return nil
}

// Recent returns all turns for sessionID committed no earlier than
// time.Now()-window, ordered chronologically (oldest first).
func (s *Store) Recent(ctx context.Context, sessionID string, window time.Duration) ([]Entry, error) {
	const q = `
		SELECT session_id, role, text, committed_at
		FROM   session_turns
		WHERE  session_id    = $1
		  AND  committed_at >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY committed_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("turn store: recent: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e    Entry
			role string
		)
		if err := row.Scan(&e.SessionID, &role, &e.Text, &e.CommittedAt); err != nil {
			return Entry{}, err
		}
		e.Role = transcript.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("turn store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
