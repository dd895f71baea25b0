// Package session provides the PostgreSQL-backed registry of chat sessions.
// A session row is created when two users are paired and is never deleted;
// ending a session only sets its ended_at timestamp, keeping the pairing
// history available for audit.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSameMember is returned when both members of a session are the same user.
var ErrSameMember = errors.New("session: members must be distinct users")

// Session is one pairing of two users. The member pair is unordered; callers
// must not assume which side is MemberA.
type Session struct {
	ID        string
	MemberA   string
	MemberB   string
	StartedAt time.Time
	EndedAt   *time.Time // nil while the session is active
}

// Active reports whether the session has not been ended yet.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Partner returns the other member's user ID, or "" if the given user is not
// a member.
func (s *Session) Partner(userID string) string {
	if userID == s.MemberA {
		return s.MemberB
	}
	if userID == s.MemberB {
		return s.MemberA
	}
	return ""
}

// IsMember checks whether a user belongs to this session.
func (s *Session) IsMember(userID string) bool {
	return userID == s.MemberA || userID == s.MemberB
}

// Store manages chat sessions in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new active session for the two members and returns its ID.
// Invoked only by a successful pairing claim.
func (s *Store) Create(ctx context.Context, memberA, memberB string) (string, error) {
	if memberA == memberB {
		return "", ErrSameMember
	}

	const query = `
		INSERT INTO chat_sessions (member_a, member_b)
		VALUES ($1, $2)
		RETURNING id`

	var id string
	if err := s.db.QueryRowContext(ctx, query, memberA, memberB).Scan(&id); err != nil {
		return "", fmt.Errorf("session: insert: %w", err)
	}
	return id, nil
}

// End marks a session as ended. Idempotent: the first call sets ended_at,
// later calls are no-ops and keep the original timestamp.
func (s *Store) End(ctx context.Context, sessionID string) error {
	const query = `
		UPDATE chat_sessions
		SET ended_at = NOW()
		WHERE id = $1 AND ended_at IS NULL`

	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("session: end %s: %w", sessionID, err)
	}
	return nil
}

// Get retrieves a session by ID. Returns nil if it does not exist.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	const query = `
		SELECT id, member_a, member_b, started_at, ended_at
		FROM chat_sessions
		WHERE id = $1`

	var (
		sess    Session
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &sess.MemberA, &sess.MemberB, &sess.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}

// ActiveFor returns the user's current active session, or nil if they are
// not paired. A user appears in at most one active session at a time.
func (s *Store) ActiveFor(ctx context.Context, userID string) (*Session, error) {
	const query = `
		SELECT id, member_a, member_b, started_at, ended_at
		FROM chat_sessions
		WHERE (member_a = $1 OR member_b = $1) AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`

	var (
		sess    Session
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sess.ID, &sess.MemberA, &sess.MemberB, &sess.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: active for %s: %w", userID, err)
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}
