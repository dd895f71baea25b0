// Package report provides PostgreSQL-backed storage for abuse reports. The
// core only appends reports; review and consumption belong to the external
// moderation workflow, which reads them through the admin-gated listing.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roulette/chat-app/internal/metrics"
)

const (
	// MaxReasonChars is the maximum report reason length.
	MaxReasonChars = 500

	// RoleAdmin gates the report listing.
	RoleAdmin = "admin"

	// RoleUser is assigned to every profile at login.
	RoleUser = "user"
)

var (
	// ErrEmptyReason is returned for a blank report reason.
	ErrEmptyReason = errors.New("report: reason must not be empty")

	// ErrReasonTooLong is returned when the reason exceeds MaxReasonChars.
	ErrReasonTooLong = fmt.Errorf("report: reason exceeds %d character limit", MaxReasonChars)

	// ErrPermissionDenied is returned when a non-admin requests the listing.
	ErrPermissionDenied = errors.New("report: admin role required")
)

// Report is one filed abuse report. Write-once, append-only.
type Report struct {
	ID             string
	ReporterID     string
	ReportedUserID string
	Reason         string
	CreatedAt      time.Time
}

// Store manages abuse reports and user roles in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append files a report. The reason is validated before any store call.
func (s *Store) Append(ctx context.Context, reporterID, reportedUserID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}
	if utf8.RuneCountInString(reason) > MaxReasonChars {
		return ErrReasonTooLong
	}

	const query = `
		INSERT INTO reports (reporter_id, reported_user_id, reason)
		VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, reporterID, reportedUserID, reason); err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	metrics.ReportsTotal.Inc()
	return nil
}

// ListAll returns every report, newest first. The caller must hold the admin
// role; everyone else gets ErrPermissionDenied.
func (s *Store) ListAll(ctx context.Context, callerID string) ([]Report, error) {
	isAdmin, err := s.HasRole(ctx, callerID, RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, ErrPermissionDenied
	}

	const query = `
		SELECT id, reporter_id, reported_user_id, reason, created_at
		FROM reports
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.ReportedUserID, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	return reports, nil
}

// HasRole checks whether a user holds the given role.
func (s *Store) HasRole(ctx context.Context, userID, role string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2
		)`

	var has bool
	if err := s.db.QueryRowContext(ctx, query, userID, role).Scan(&has); err != nil {
		return false, fmt.Errorf("report: role check: %w", err)
	}
	return has, nil
}

// AssignRole grants a role to a user. Assigning an already-held role is a
// no-op.
func (s *Store) AssignRole(ctx context.Context, userID, role string) error {
	const query = `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, userID, role); err != nil {
		return fmt.Errorf("report: assign role: %w", err)
	}
	return nil
}
