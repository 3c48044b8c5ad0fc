package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for reservation persistence operations.
type Repository interface {
	// GetByID retrieves a reservation by its unique identifier.
	// Returns ErrReservationNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Reservation, error)

	// ListByDevice retrieves all reservations for a device, earliest first.
	ListByDevice(ctx context.Context, deviceID string) ([]Reservation, error)

	// ListByStatus retrieves all reservations in a given status.
	ListByStatus(ctx context.Context, status Status) ([]Reservation, error)

	// FindOverlapping retrieves pending or active reservations for the
	// device whose half-open windows intersect [start, end).
	FindOverlapping(ctx context.Context, deviceID string, start, end time.Time) ([]Reservation, error)

	// FindDue retrieves pending reservations whose window has opened as of now.
	FindDue(ctx context.Context, now time.Time) ([]Reservation, error)

	// FindExpired retrieves active reservations whose window has closed as of now.
	FindExpired(ctx context.Context, now time.Time) ([]Reservation, error)

	// FindUnattached retrieves active reservations still inside their
	// window that have no session attached yet.
	FindUnattached(ctx context.Context, now time.Time) ([]Reservation, error)

	// Create inserts a new reservation.
	Create(ctx context.Context, r *Reservation) error

	// Update modifies an existing reservation.
	// Returns ErrReservationNotFound if it does not exist.
	Update(ctx context.Context, r *Reservation) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const reservationColumns = `id, device_id, holder, window_start, window_end, status, session_id, created_at, updated_at`

// GetByID retrieves a reservation by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	res, err := scanReservationRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("querying reservation by id: %w", err)
	}
	return res, nil
}

// ListByDevice retrieves all reservations for a device, earliest first.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE device_id = ? ORDER BY window_start`
	return r.queryReservations(ctx, query, deviceID)
}

// ListByStatus retrieves all reservations in a given status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE status = ? ORDER BY window_start`
	return r.queryReservations(ctx, query, string(status))
}

// FindOverlapping retrieves pending or active reservations whose
// half-open windows intersect [start, end).
func (r *SQLiteRepository) FindOverlapping(ctx context.Context, deviceID string, start, end time.Time) ([]Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE device_id = ?
		  AND status IN ('pending', 'active')
		  AND window_start < ?
		  AND window_end > ?
		ORDER BY window_start`

	return r.queryReservations(ctx, query,
		deviceID,
		end.UTC().Format(time.RFC3339),
		start.UTC().Format(time.RFC3339),
	)
}

// FindDue retrieves pending reservations whose window has opened.
func (r *SQLiteRepository) FindDue(ctx context.Context, now time.Time) ([]Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = 'pending' AND window_start <= ?
		ORDER BY window_start`

	return r.queryReservations(ctx, query, now.UTC().Format(time.RFC3339))
}

// FindExpired retrieves active reservations whose window has closed.
func (r *SQLiteRepository) FindExpired(ctx context.Context, now time.Time) ([]Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = 'active' AND window_end <= ?
		ORDER BY window_end`

	return r.queryReservations(ctx, query, now.UTC().Format(time.RFC3339))
}

// FindUnattached retrieves active reservations still inside their
// window that have no session attached yet.
func (r *SQLiteRepository) FindUnattached(ctx context.Context, now time.Time) ([]Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = 'active' AND session_id IS NULL AND window_end > ?
		ORDER BY window_start`

	return r.queryReservations(ctx, query, now.UTC().Format(time.RFC3339))
}

// Create inserts a new reservation.
func (r *SQLiteRepository) Create(ctx context.Context, res *Reservation) error {
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	query := `
		INSERT INTO reservations (id, device_id, holder, window_start, window_end, status, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		res.ID,
		res.DeviceID,
		res.Holder,
		res.WindowStart.UTC().Format(time.RFC3339),
		res.WindowEnd.UTC().Format(time.RFC3339),
		string(res.Status),
		nullableStringPtr(res.SessionID),
		res.CreatedAt.Format(time.RFC3339),
		res.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

// Update modifies an existing reservation.
func (r *SQLiteRepository) Update(ctx context.Context, res *Reservation) error {
	res.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE reservations SET
			status = ?, session_id = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(res.Status),
		nullableStringPtr(res.SessionID),
		res.UpdatedAt.Format(time.RFC3339),
		res.ID,
	)
	if err != nil {
		return fmt.Errorf("updating reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// queryReservations executes a query and returns a slice of reservations.
func (r *SQLiteRepository) queryReservations(ctx context.Context, query string, args ...any) ([]Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reservations: %w", err)
	}
	defer rows.Close()

	var reservations []Reservation
	for rows.Next() {
		res, err := scanReservationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, *res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reservations: %w", err)
	}
	return reservations, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanReservationRow scans a row or rows result into a Reservation.
func scanReservationRow(scanner rowScanner) (*Reservation, error) {
	var res Reservation
	var status string
	var sessionID sql.NullString
	var windowStart, windowEnd, createdAt, updatedAt string

	err := scanner.Scan(
		&res.ID,
		&res.DeviceID,
		&res.Holder,
		&windowStart,
		&windowEnd,
		&status,
		&sessionID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	res.Status = Status(status)
	if sessionID.Valid {
		res.SessionID = &sessionID.String
	}

	var parseErr error
	res.WindowStart, parseErr = time.Parse(time.RFC3339, windowStart)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing window_start: %w", parseErr)
	}
	res.WindowEnd, parseErr = time.Parse(time.RFC3339, windowEnd)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing window_end: %w", parseErr)
	}
	res.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	res.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &res, nil
}

// nullableStringPtr returns a sql.NullString for optional string pointers.
func nullableStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
