package record

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so created_at sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// PerformanceRepository appends and reads profiler samples.
type PerformanceRepository interface {
	Create(ctx context.Context, sample *PerformanceSample) error
	List(ctx context.Context, filter Filter) ([]PerformanceSample, error)
}

// EventLogRepository appends and reads detection events.
type EventLogRepository interface {
	Create(ctx context.Context, event *EventLog) error
	List(ctx context.Context, filter Filter) ([]EventLog, error)
}

// SQLitePerformanceRepository stores samples in performance_samples.
type SQLitePerformanceRepository struct {
	db *sql.DB
}

func NewSQLitePerformanceRepository(db *sql.DB) *SQLitePerformanceRepository {
	return &SQLitePerformanceRepository{db: db}
}

// Create inserts a sample. The ID and CreatedAt are generated if empty.
func (r *SQLitePerformanceRepository) Create(ctx context.Context, s *PerformanceSample) error {
	if err := s.validate(); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO performance_samples
			(id, device_id, cpu_used_rate, mem_used_rate, disk_io_read, disk_io_write, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.DeviceID, s.CPUUsedRate, s.MemUsedRate, s.DiskIORead, s.DiskIOWrite,
		s.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting performance sample: %w", err)
	}
	return nil
}

// List returns samples matching the filter, most recent first.
func (r *SQLitePerformanceRepository) List(ctx context.Context, filter Filter) ([]PerformanceSample, error) {
	where, args := filter.where()
	f := filter.clamped()
	query := `SELECT id, device_id, cpu_used_rate, mem_used_rate, disk_io_read, disk_io_write, created_at
		FROM performance_samples ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying performance samples: %w", err)
	}
	defer rows.Close()

	samples := []PerformanceSample{}
	for rows.Next() {
		var s PerformanceSample
		var createdAt string
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.CPUUsedRate, &s.MemUsedRate,
			&s.DiskIORead, &s.DiskIOWrite, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning performance sample: %w", err)
		}
		if s.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing sample timestamp %q: %w", createdAt, err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating performance samples: %w", err)
	}
	return samples, nil
}

// SQLiteEventLogRepository stores events in event_logs.
type SQLiteEventLogRepository struct {
	db *sql.DB
}

func NewSQLiteEventLogRepository(db *sql.DB) *SQLiteEventLogRepository {
	return &SQLiteEventLogRepository{db: db}
}

// Create inserts an event. The ID and CreatedAt are generated if empty.
func (r *SQLiteEventLogRepository) Create(ctx context.Context, e *EventLog) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_logs
			(id, device_id, user_id, code, message, action, resource_type, resource_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, e.UserID, e.Code, e.Message, e.Action,
		string(e.ResourceType), e.ResourcePath,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event log: %w", err)
	}
	return nil
}

// List returns events matching the filter, most recent first.
func (r *SQLiteEventLogRepository) List(ctx context.Context, filter Filter) ([]EventLog, error) {
	where, args := filter.where()
	f := filter.clamped()
	query := `SELECT id, device_id, user_id, code, message, action, resource_type, resource_path, created_at
		FROM event_logs ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying event logs: %w", err)
	}
	defer rows.Close()

	events := []EventLog{}
	for rows.Next() {
		var e EventLog
		var resourceType, createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.UserID, &e.Code, &e.Message, &e.Action,
			&resourceType, &e.ResourcePath, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event log: %w", err)
		}
		e.ResourceType = ResourceType(resourceType)
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event logs: %w", err)
	}
	return events, nil
}

// where builds a parameterised WHERE clause from the filter.
func (f Filter) where() (string, []any) {
	var conditions []string
	var args []any

	if f.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
