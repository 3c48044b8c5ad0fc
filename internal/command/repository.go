package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for command persistence operations.
type Repository interface {
	// GetByID retrieves a command by its unique identifier.
	// Returns ErrCommandNotFound if the command does not exist.
	GetByID(ctx context.Context, id string) (*Command, error)

	// ListBySession retrieves all commands for a session, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]Command, error)

	// Create inserts a new command.
	Create(ctx context.Context, cmd *Command) error

	// Update modifies an existing command.
	// Returns ErrCommandNotFound if the command does not exist.
	Update(ctx context.Context, cmd *Command) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const commandColumns = `id, session_id, device_id, payload, status, attempts, detail, enqueued_at, resolved_at, created_at, updated_at`

// GetByID retrieves a command by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	cmd, err := scanCommandRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command by id: %w", err)
	}
	return cmd, nil
}

// ListBySession retrieves all commands for a session, oldest first.
func (r *SQLiteRepository) ListBySession(ctx context.Context, sessionID string) ([]Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE session_id = ? ORDER BY enqueued_at`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		cmd, err := scanCommandRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

// Create inserts a new command.
func (r *SQLiteRepository) Create(ctx context.Context, cmd *Command) error {
	now := time.Now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = now

	query := `
		INSERT INTO commands (id, session_id, device_id, payload, status, attempts, detail, enqueued_at, resolved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		cmd.ID,
		cmd.SessionID,
		cmd.DeviceID,
		cmd.Payload,
		string(cmd.Status),
		cmd.Attempts,
		nullableString(cmd.Detail),
		cmd.EnqueuedAt.UTC().Format(time.RFC3339),
		nullableTime(cmd.ResolvedAt),
		cmd.CreatedAt.Format(time.RFC3339),
		cmd.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Update modifies an existing command.
func (r *SQLiteRepository) Update(ctx context.Context, cmd *Command) error {
	cmd.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE commands SET
			status = ?, attempts = ?, detail = ?, resolved_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(cmd.Status),
		cmd.Attempts,
		nullableString(cmd.Detail),
		nullableTime(cmd.ResolvedAt),
		cmd.UpdatedAt.Format(time.RFC3339),
		cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("updating command: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCommandRow scans a row or rows result into a Command.
func scanCommandRow(scanner rowScanner) (*Command, error) {
	var c Command
	var status string
	var detail, resolvedAt sql.NullString
	var enqueuedAt, createdAt, updatedAt string

	err := scanner.Scan(
		&c.ID,
		&c.SessionID,
		&c.DeviceID,
		&c.Payload,
		&status,
		&c.Attempts,
		&detail,
		&enqueuedAt,
		&resolvedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	if detail.Valid {
		c.Detail = detail.String
	}

	var parseErr error
	c.EnqueuedAt, parseErr = time.Parse(time.RFC3339, enqueuedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing enqueued_at: %w", parseErr)
	}
	c.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	c.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err == nil {
			c.ResolvedAt = &t
		}
	}

	return &c, nil
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
