// Package record stores the append-only device records: profiler
// PerformanceSamples and detection EventLogs.
//
// Rows are never updated once written. EventLog rows are created only
// after the media blob they point at has been stored.
package record

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidSample is returned when a sample lacks its device or has
	// a negative reading.
	ErrInvalidSample = errors.New("record: invalid performance sample")

	// ErrInvalidEvent is returned when an event log is missing a required field.
	ErrInvalidEvent = errors.New("record: invalid event log")
)

// PerformanceSample is one profiler frame.
type PerformanceSample struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	CPUUsedRate float64   `json:"cpu_used_rate"`
	MemUsedRate float64   `json:"mem_used_rate"`
	DiskIORead  float64   `json:"disk_io_read"`
	DiskIOWrite float64   `json:"disk_io_write"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *PerformanceSample) validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidSample)
	}
	if s.CPUUsedRate < 0 || s.MemUsedRate < 0 || s.DiskIORead < 0 || s.DiskIOWrite < 0 {
		return fmt.Errorf("%w: readings cannot be negative", ErrInvalidSample)
	}
	return nil
}

// ResourceType is the kind of media an EventLog points at.
type ResourceType string

const (
	ResourceVideo ResourceType = "video"
	ResourceImage ResourceType = "image"
)

// EventLog is one security event reported by a device.
type EventLog struct {
	ID           string       `json:"id"`
	DeviceID     string       `json:"device_id"`
	UserID       string       `json:"user_id"`
	Code         int          `json:"code"`
	Message      string       `json:"message"`
	Action       string       `json:"action"`
	ResourceType ResourceType `json:"resource_type"`
	ResourcePath string       `json:"resource_path"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (e *EventLog) validate() error {
	switch {
	case e.DeviceID == "" || e.UserID == "":
		return fmt.Errorf("%w: device_id and user_id are required", ErrInvalidEvent)
	case e.ResourcePath == "":
		return fmt.Errorf("%w: resource_path is required", ErrInvalidEvent)
	case e.ResourceType != ResourceVideo && e.ResourceType != ResourceImage:
		return fmt.Errorf("%w: resource_type must be video or image", ErrInvalidEvent)
	}
	return nil
}

// Filter controls which records List returns.
type Filter struct {
	DeviceID string // optional
	Since    time.Time
	Limit    int // default 50, max 500
	Offset   int
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func (f Filter) clamped() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
