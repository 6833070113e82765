package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liveline-audio/liveline/internal/transcript"
	"github.com/liveline-audio/liveline/internal/transcript/store"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if LIVELINE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LIVELINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LIVELINE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [store.Store] with a clean turn table.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS session_turns CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	s, err := store.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestWriteAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	turns := []transcript.Turn{
		{Role: transcript.RoleUser, Text: "what's the weather", CommittedAt: now.Add(-2 * time.Minute)},
		{Role: transcript.RoleAgent, Text: "Sunny, 22 degrees.", CommittedAt: now.Add(-2 * time.Minute)},
		{Role: transcript.RoleUser, Text: "", CommittedAt: now.Add(-1 * time.Minute)},
		{Role: transcript.RoleAgent, Text: "Anything else?", CommittedAt: now.Add(-1 * time.Minute)},
	}
	for _, turn := range turns {
		if err := s.WriteTurn(ctx, "session-1", turn); err != nil {
			t.Fatalf("WriteTurn: %v", err)
		}
	}

	got, err := s.Recent(ctx, "session-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Recent returned %d entries; want 4", len(got))
	}
	if got[0].Text != "what's the weather" || got[0].Role != transcript.RoleUser {
		t.Errorf("entry[0] = %+v", got[0])
	}
	if got[2].Text != "" {
		t.Errorf("empty turn should round-trip; got %+v", got[2])
	}
	if !got[3].CommittedAt.After(got[0].CommittedAt) {
		t.Error("entries not in chronological order")
	}
}

func TestRecent_WindowExcludesOldTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := transcript.Turn{
		Role: transcript.RoleUser, Text: "ancient history",
		CommittedAt: time.Now().Add(-2 * time.Hour),
	}
	fresh := transcript.Turn{
		Role: transcript.RoleUser, Text: "just now",
		CommittedAt: time.Now(),
	}
	if err := s.WriteTurn(ctx, "session-1", old); err != nil {
		t.Fatalf("WriteTurn: %v", err)
	}
	if err := s.WriteTurn(ctx, "session-1", fresh); err != nil {
		t.Fatalf("WriteTurn: %v", err)
	}

	got, err := s.Recent(ctx, "session-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Text != "just now" {
		t.Errorf("Recent = %+v; want only the fresh turn", got)
	}
}

func TestRecent_SessionsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	turn := transcript.Turn{Role: transcript.RoleAgent, Text: "hello", CommittedAt: time.Now()}
	if err := s.WriteTurn(ctx, "session-a", turn); err != nil {
		t.Fatalf("WriteTurn: %v", err)
	}

	got, err := s.Recent(ctx, "session-b", time.Hour)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent for other session = %+v; want empty", got)
	}
}
