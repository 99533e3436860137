// Package notify is the Notification Sink: in-app alerts published to a
// user's bus topic and alert emails sent over SMTP, both gated by the
// user's notification settings.
package notify

import (
	"fmt"
	"html"
)

// Level is the severity shown by the notification widget.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
	LevelError   Level = "error"
)

// Type selects the UI widget.
type Type string

const (
	TypeToast Type = "toast"
	TypeSwal  Type = "swal"
)

// Display durations in milliseconds.
const (
	DurationLong  = 8000
	DurationShort = 3000
)

// Message is one in-app notification. It is transient: published on the
// owner's topic and never stored.
type Message struct {
	Title    string `json:"title,omitempty"`
	Body     string `json:"message"`
	Level    Level  `json:"level"`
	Duration int    `json:"duration"`
	JumpURL  string `json:"jump_url,omitempty"`
	// Footer is pre-rendered HTML.
	Footer  string `json:"footer,omitempty"`
	Refresh bool   `json:"refresh"`
	Type    Type   `json:"notification_type"`
}

// DeviceOnline announces a connected device with a link to its detail view.
func DeviceOnline(deviceName, detailURL string) Message {
	return Message{
		Body:     fmt.Sprintf("Device: %s is online.", deviceName),
		Level:    LevelInfo,
		Duration: DurationLong,
		JumpURL:  detailURL,
		Type:     TypeToast,
	}
}

// DeviceOffline announces a disconnected device.
func DeviceOffline(deviceName string) Message {
	return Message{
		Body:     fmt.Sprintf("Device: %s is offline.", deviceName),
		Level:    LevelWarning,
		Duration: DurationLong,
		Type:     TypeToast,
	}
}

// IntruderDetected is the high-severity alert for a detect event.
func IntruderDetected(code int, detailURL string) Message {
	return Message{
		Title:    "Intruder Event",
		Body:     fmt.Sprintf("Detect Intruder Event %d", code),
		Level:    LevelError,
		Duration: DurationLong,
		Footer:   fmt.Sprintf(`<a href="%s">Click here to check event detail</a>`, html.EscapeString(detailURL)),
		Type:     TypeSwal,
	}
}

// OperationFeedback reports a device's answer to a command. Feature
// toggles refresh the page so the new flag shows; restarts do not and
// stay on screen longer.
func OperationFeedback(deviceName, operation, operationType string, enabled, toggle bool) Message {
	level := LevelDanger
	if enabled {
		level = LevelSuccess
	}
	m := Message{
		Body:    fmt.Sprintf("Device %s %s %s", deviceName, operation, operationType),
		Level:   level,
		Refresh: toggle,
		Type:    TypeToast,
	}
	if toggle {
		m.Duration = DurationShort
	} else {
		m.Duration = DurationLong
	}
	return m
}
