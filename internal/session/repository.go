package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for session persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a session by its unique identifier.
	// Returns ErrSessionNotFound if the session does not exist.
	GetByID(ctx context.Context, id string) (*Session, error)

	// FindActiveByDevice retrieves the open session for a device.
	// Returns ErrNoActiveSession if the device has no open session.
	FindActiveByDevice(ctx context.Context, deviceID string) (*Session, error)

	// ListActive retrieves all open sessions.
	ListActive(ctx context.Context) ([]Session, error)

	// Create inserts a new session.
	Create(ctx context.Context, session *Session) error

	// Update modifies an existing session.
	// Returns ErrSessionNotFound if the session does not exist.
	Update(ctx context.Context, session *Session) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const sessionColumns = `id, device_id, holder, started_at, last_activity, expires_at, ended_at, end_reason, created_at, updated_at`

// GetByID retrieves a session by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	s, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("querying session by id: %w", err)
	}
	return s, nil
}

// FindActiveByDevice retrieves the open session for a device.
func (r *SQLiteRepository) FindActiveByDevice(ctx context.Context, deviceID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE device_id = ? AND ended_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	s, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("querying active session: %w", err)
	}
	return s, nil
}

// ListActive retrieves all open sessions.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ended_at IS NULL ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Create inserts a new session.
func (r *SQLiteRepository) Create(ctx context.Context, session *Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	query := `
		INSERT INTO sessions (id, device_id, holder, started_at, last_activity, expires_at, ended_at, end_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.DeviceID,
		session.Holder,
		session.StartedAt.UTC().Format(time.RFC3339),
		session.LastActivity.UTC().Format(time.RFC3339),
		session.ExpiresAt.UTC().Format(time.RFC3339),
		nullableTime(session.EndedAt),
		nullableString(session.EndReason),
		session.CreatedAt.Format(time.RFC3339),
		session.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Update modifies an existing session.
func (r *SQLiteRepository) Update(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sessions SET
			last_activity = ?, ended_at = ?, end_reason = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		session.LastActivity.UTC().Format(time.RFC3339),
		nullableTime(session.EndedAt),
		nullableString(session.EndReason),
		session.UpdatedAt.Format(time.RFC3339),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSessionRow scans a row or rows result into a Session.
func scanSessionRow(scanner rowScanner) (*Session, error) {
	var s Session
	var endedAt, endReason sql.NullString
	var startedAt, lastActivity, expiresAt, createdAt, updatedAt string

	err := scanner.Scan(
		&s.ID,
		&s.DeviceID,
		&s.Holder,
		&startedAt,
		&lastActivity,
		&expiresAt,
		&endedAt,
		&endReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var parseErr error
	s.StartedAt, parseErr = time.Parse(time.RFC3339, startedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing started_at: %w", parseErr)
	}
	s.LastActivity, parseErr = time.Parse(time.RFC3339, lastActivity)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", parseErr)
	}
	s.ExpiresAt, parseErr = time.Parse(time.RFC3339, expiresAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", parseErr)
	}
	s.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	s.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339, endedAt.String)
		if err == nil {
			s.EndedAt = &t
		}
	}
	if endReason.Valid {
		s.EndReason = endReason.String
	}

	return &s, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullableString returns a sql.NullString for optional strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
