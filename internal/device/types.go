package device

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Device is one edge device. It matches the devices table in
// migrations/20260301_090000_initial_schema.up.sql.
type Device struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// APIKey is the opaque credential presented at connect time.
	APIKey string `json:"-"`

	// Enabled gates admission and is re-checked while a session runs.
	Enabled bool `json:"enabled"`

	Online          bool       `json:"online"`
	Activated       bool       `json:"activated"`
	LastOnlineAt    *time.Time `json:"last_online_at,omitempty"`
	ConnectionCount int64      `json:"connection_count"`

	ProfilerEnabled          bool `json:"profiler_enabled"`
	IntruderDetectionEnabled bool `json:"intruder_detection_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of d.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.LastOnlineAt != nil {
		t := *d.LastOnlineAt
		cpy.LastOnlineAt = &t
	}
	return &cpy
}

// FeatureEnabled reports the current toggle for f.
func (d *Device) FeatureEnabled(f Feature) bool {
	switch f {
	case FeatureProfiler:
		return d.ProfilerEnabled
	case FeatureIntruderDetection:
		return d.IntruderDetectionEnabled
	default:
		return false
	}
}

// Validate checks the fields required before a device is stored.
func (d *Device) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	case len(d.Name) > maxNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	case d.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidDevice)
	case d.APIKey == "":
		return fmt.Errorf("%w: api_key is required", ErrInvalidDevice)
	}
	return nil
}

const maxNameLength = 100

// Feature is a device capability the server can switch on and off.
type Feature string

const (
	FeatureProfiler          Feature = "profiler"
	FeatureIntruderDetection Feature = "intruder_detection"
)

// Features lists every toggleable feature in the order init frames are sent.
var Features = []Feature{FeatureProfiler, FeatureIntruderDetection}

// ParseFeature validates a feature name.
func ParseFeature(s string) (Feature, error) {
	switch Feature(s) {
	case FeatureProfiler, FeatureIntruderDetection:
		return Feature(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFeature, s)
}

// column maps a feature to its devices table column.
func (f Feature) column() (string, error) {
	switch f {
	case FeatureProfiler:
		return "profiler_enabled", nil
	case FeatureIntruderDetection:
		return "intruder_detection_enabled", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFeature, f)
}

// User owns devices and receives their notifications.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings are a user's notification switches.
type Settings struct {
	WebNotification   bool `json:"web_notification"`
	EmailNotification bool `json:"email_notification"`
}

// DefaultSettings applies when a user has no settings row.
func DefaultSettings() Settings {
	return Settings{WebNotification: true, EmailNotification: true}
}

// GenerateID returns a new random record ID.
func GenerateID() string {
	return uuid.NewString()
}
