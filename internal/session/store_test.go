package session

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func TestSession_Partner(t *testing.T) {
	s := &Session{ID: "s1", MemberA: "alice", MemberB: "bob"}

	if got := s.Partner("alice"); got != "bob" {
		t.Errorf("Partner(alice) = %q, want bob", got)
	}
	if got := s.Partner("bob"); got != "alice" {
		t.Errorf("Partner(bob) = %q, want alice", got)
	}
	if got := s.Partner("carol"); got != "" {
		t.Errorf("Partner(carol) = %q, want empty", got)
	}
}

func TestSession_IsMember(t *testing.T) {
	s := &Session{MemberA: "alice", MemberB: "bob"}

	if !s.IsMember("alice") || !s.IsMember("bob") {
		t.Error("both members should be recognised")
	}
	if s.IsMember("carol") {
		t.Error("non-member recognised as member")
	}
}

func TestSession_Active(t *testing.T) {
	s := &Session{}
	if !s.Active() {
		t.Error("session without ended_at should be active")
	}

	now := time.Now()
	s.EndedAt = &now
	if s.Active() {
		t.Error("session with ended_at should be inactive")
	}
}

func TestStore_CreateRejectsSameMember(t *testing.T) {
	// Validation runs before any database access.
	store := NewStore(nil)
	_, err := store.Create(context.Background(), "alice", "alice")
	if !errors.Is(err, ErrSameMember) {
		t.Errorf("expected ErrSameMember, got %v", err)
	}
}

// setupTestDB connects to a test PostgreSQL instance with the schema already
// applied. Tests are skipped unless TEST_POSTGRES_DSN is set and reachable.
func setupTestDB(t *testing.T) (*Store, context.Context) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skipping: TEST_POSTGRES_DSN not set")
	}

	handle, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Skipf("skipping: PostgreSQL not available: %v", err)
	}
	ctx := context.Background()
	if err := handle.PingContext(ctx); err != nil {
		t.Skipf("skipping: PostgreSQL not available: %v", err)
	}

	if _, err := handle.ExecContext(ctx, "TRUNCATE chat_sessions"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() {
		handle.ExecContext(ctx, "TRUNCATE chat_sessions")
		handle.Close()
	})

	return NewStore(handle), ctx
}

func TestStore_CreateAndGet(t *testing.T) {
	store, ctx := setupTestDB(t)

	id, err := store.Create(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected session ID")
	}

	sess, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if !sess.IsMember("alice") || !sess.IsMember("bob") {
		t.Errorf("unexpected members: %+v", sess)
	}
	if !sess.Active() {
		t.Error("fresh session should be active")
	}
}

func TestStore_EndIsIdempotent(t *testing.T) {
	store, ctx := setupTestDB(t)

	id, err := store.Create(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.End(ctx, id); err != nil {
		t.Fatalf("end: %v", err)
	}
	first, _ := store.Get(ctx, id)
	if first == nil || first.EndedAt == nil {
		t.Fatal("expected ended session")
	}

	// Second end keeps the original timestamp.
	time.Sleep(10 * time.Millisecond)
	if err := store.End(ctx, id); err != nil {
		t.Fatalf("second end: %v", err)
	}
	second, _ := store.Get(ctx, id)
	if second == nil || second.EndedAt == nil {
		t.Fatal("expected ended session")
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("ended_at changed on repeat end: %s vs %s", first.EndedAt, second.EndedAt)
	}
}

func TestStore_ActiveFor(t *testing.T) {
	store, ctx := setupTestDB(t)

	id, err := store.Create(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sess, err := store.ActiveFor(ctx, "alice")
	if err != nil {
		t.Fatalf("active for: %v", err)
	}
	if sess == nil || sess.ID != id {
		t.Errorf("expected session %s, got %+v", id, sess)
	}

	if err := store.End(ctx, id); err != nil {
		t.Fatalf("end: %v", err)
	}
	sess, err = store.ActiveFor(ctx, "alice")
	if err != nil {
		t.Fatalf("active for: %v", err)
	}
	if sess != nil {
		t.Errorf("expected no active session after end, got %+v", sess)
	}
}
