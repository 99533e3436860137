package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence. The session core never creates
// or deletes devices; Create exists for provisioning tools and tests.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByAPIKey looks a device up by its connection credential.
	// Returns ErrDeviceNotFound for unknown keys.
	GetByAPIKey(ctx context.Context, apiKey string) (*Device, error)

	// ListByUser returns every device owned by userID.
	ListByUser(ctx context.Context, userID string) ([]Device, error)

	Create(ctx context.Context, device *Device) error

	// MarkOnline sets online and activated, stamps last_online_at and
	// increments connection_count in one statement, then returns the
	// updated record.
	MarkOnline(ctx context.Context, id string, at time.Time) (*Device, error)

	// MarkOffline clears the online flag.
	MarkOffline(ctx context.Context, id string) error

	// SetEnabled toggles the admission gate.
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// SetFeature persists a feature toggle.
	SetFeature(ctx context.Context, id string, feature Feature, enabled bool) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `
	id, user_id, name, api_key, enabled, online, activated, last_online_at,
	connection_count, profiler_enabled, intruder_detection_enabled,
	created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return device, nil
}

// GetByAPIKey retrieves a device by its credential.
func (r *SQLiteRepository) GetByAPIKey(ctx context.Context, apiKey string) (*Device, error) {
	if apiKey == "" {
		return nil, ErrDeviceNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE api_key = ?`, apiKey)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by key: %w", err)
	}
	return device, nil
}

// ListByUser retrieves all devices owned by a user, ordered by name.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device. An empty ID is generated.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if device.ID == "" {
		device.ID = GenerateID()
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.UserID,
		device.Name,
		device.APIKey,
		boolToInt(device.Enabled),
		boolToInt(device.Online),
		boolToInt(device.Activated),
		nullableTime(device.LastOnlineAt),
		device.ConnectionCount,
		boolToInt(device.ProfilerEnabled),
		boolToInt(device.IntruderDetectionEnabled),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// MarkOnline records a successful connection.
func (r *SQLiteRepository) MarkOnline(ctx context.Context, id string, at time.Time) (*Device, error) {
	stamp := at.UTC().Format(time.RFC3339)
	query := `
		UPDATE devices
		SET online = 1, activated = 1, last_online_at = ?,
			connection_count = connection_count + 1, updated_at = ?
		WHERE id = ?`

	if err := r.execOne(ctx, "marking device online", query, stamp, stamp, id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// MarkOffline records a disconnect.
func (r *SQLiteRepository) MarkOffline(ctx context.Context, id string) error {
	return r.execOne(ctx, "marking device offline",
		`UPDATE devices SET online = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
}

// SetEnabled toggles the admission gate.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return r.execOne(ctx, "updating device enabled",
		`UPDATE devices SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), id)
}

// SetFeature persists a feature toggle.
func (r *SQLiteRepository) SetFeature(ctx context.Context, id string, feature Feature, enabled bool) error {
	column, err := feature.column()
	if err != nil {
		return err
	}
	// column comes from a closed set, never from input.
	query := `UPDATE devices SET ` + column + ` = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "updating device feature", query,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), id)
}

// execOne runs an UPDATE that must touch exactly one device.
func (r *SQLiteRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: checking rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var enabled, online, activated, profiler, intruder int
	var lastOnline sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.APIKey,
		&enabled,
		&online,
		&activated,
		&lastOnline,
		&d.ConnectionCount,
		&profiler,
		&intruder,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Enabled = enabled != 0
	d.Online = online != 0
	d.Activated = activated != 0
	d.ProfilerEnabled = profiler != 0
	d.IntruderDetectionEnabled = intruder != 0

	if lastOnline.Valid {
		t, err := time.Parse(time.RFC3339, lastOnline.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_online_at: %w", err)
		}
		d.LastOnlineAt = &t
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &d, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
