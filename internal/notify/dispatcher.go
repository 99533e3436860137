package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/edgewatch/edgewatch-core/internal/bus"
	"github.com/edgewatch/edgewatch-core/internal/device"
	"github.com/edgewatch/edgewatch-core/internal/metrics"
	"github.com/edgewatch/edgewatch-core/internal/protocol"
)

// Users is the read side of device.UserRepository the dispatcher needs.
type Users interface {
	GetUser(ctx context.Context, id string) (*device.User, error)
	GetSettings(ctx context.Context, userID string) (device.Settings, error)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metric channel labels.
const (
	channelWeb   = "web"
	channelEmail = "email"
)

// Dispatcher delivers notifications to device owners.
//
// In-app messages go to the owner's bus topic (protocol.UserTopic) where
// observer connections pick them up. Emails go through the Mailer. Each
// channel is skipped when the owner switched it off.
type Dispatcher struct {
	users   Users
	bus     bus.Bus
	mailer  Mailer
	metrics *metrics.Metrics
	logger  Logger
}

// NewDispatcher creates a dispatcher. A nil mailer disables email.
func NewDispatcher(users Users, b bus.Bus, mailer Mailer, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		users:   users,
		bus:     b,
		mailer:  mailer,
		metrics: m,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Notify publishes msg to userID's topic unless web notifications are off.
func (d *Dispatcher) Notify(ctx context.Context, userID string, msg Message) error {
	settings, err := d.users.GetSettings(ctx, userID)
	if err != nil {
		d.metrics.Notification(channelWeb, "failed")
		return fmt.Errorf("loading notification settings: %w", err)
	}
	if !settings.WebNotification {
		d.metrics.Notification(channelWeb, "skipped")
		d.logger.Debug("web notification skipped", "user_id", userID)
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := d.bus.Publish(ctx, protocol.UserTopic(userID), payload); err != nil {
		d.metrics.Notification(channelWeb, "failed")
		return fmt.Errorf("publishing notification: %w", err)
	}

	d.metrics.Notification(channelWeb, "sent")
	return nil
}

// DetectionAlert is the content of an intruder alert email.
type DetectionAlert struct {
	DeviceName string
	Code       int
	MediaURL   string
	DetailURL  string
}

var detectionEmail = template.Must(template.New("detection").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>Intruder detected on {{.DeviceName}}</h2>
<p>Your device reported intruder event {{.Code}}.</p>
<p><a href="{{.MediaURL}}">View the captured media</a></p>
{{if .DetailURL}}<p><a href="{{.DetailURL}}">Open the device page</a></p>{{end}}
</body>
</html>
`))

// EmailDetection mails an intruder alert to userID unless email
// notifications are off, the user has no address, or no mailer is set.
func (d *Dispatcher) EmailDetection(ctx context.Context, userID string, alert DetectionAlert) error {
	if d.mailer == nil {
		d.metrics.Notification(channelEmail, "skipped")
		return nil
	}

	settings, err := d.users.GetSettings(ctx, userID)
	if err != nil {
		d.metrics.Notification(channelEmail, "failed")
		return fmt.Errorf("loading notification settings: %w", err)
	}
	if !settings.EmailNotification {
		d.metrics.Notification(channelEmail, "skipped")
		d.logger.Debug("email notification skipped", "user_id", userID)
		return nil
	}

	user, err := d.users.GetUser(ctx, userID)
	if err != nil {
		d.metrics.Notification(channelEmail, "failed")
		return fmt.Errorf("loading user: %w", err)
	}
	if user.Email == "" {
		d.metrics.Notification(channelEmail, "skipped")
		d.logger.Debug("email notification skipped, no address", "user_id", userID)
		return nil
	}

	var body bytes.Buffer
	if err := detectionEmail.Execute(&body, alert); err != nil {
		return fmt.Errorf("rendering detection email: %w", err)
	}

	subject := "Intruder detected on " + alert.DeviceName
	if err := d.mailer.SendMail(ctx, user.Email, subject, body.String()); err != nil {
		d.metrics.Notification(channelEmail, "failed")
		return fmt.Errorf("sending detection email: %w", err)
	}

	d.metrics.Notification(channelEmail, "sent")
	d.logger.Info("detection email sent", "user_id", userID, "code", alert.Code)
	return nil
}
