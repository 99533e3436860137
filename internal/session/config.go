package session

import (
	"context"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch-core/internal/bus"
	"github.com/edgewatch/edgewatch-core/internal/device"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
	"github.com/edgewatch/edgewatch-core/internal/media"
	"github.com/edgewatch/edgewatch-core/internal/metrics"
	"github.com/edgewatch/edgewatch-core/internal/notify"
	"github.com/edgewatch/edgewatch-core/internal/record"
	"github.com/edgewatch/edgewatch-core/internal/worker"
)

// Logger defines the logging interface used by the session package.
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

// Devices is the device state a session reads and writes. *device.Registry
// implements it.
type Devices interface {
	Authenticate(ctx context.Context, apiKey string) (*device.Device, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	MarkOnline(ctx context.Context, id string) (*device.Device, error)
	MarkOffline(ctx context.Context, id string) error
	SetFeature(ctx context.Context, id string, feature device.Feature, enabled bool) error
}

// Notifier delivers user alerts. *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg notify.Message) error
	EmailDetection(ctx context.Context, userID string, alert notify.DetectionAlert) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Devices  Devices
	Samples  record.PerformanceRepository
	Events   record.EventLogRepository
	Media    media.Sink
	Notifier Notifier
	Bus      bus.Bus
	Pool     *worker.Pool
	Metrics  *metrics.Metrics
}

// Defaults for Config fields left at zero.
const (
	DefaultMaxMessageSize = 16 << 20
	DefaultPingInterval   = 30 * time.Second
	DefaultPongWait       = 10 * time.Second
	DefaultSendBuffer     = 64
	DefaultDetailPath     = "/devices/{id}"

	// offlineTimeout bounds the offline transition, which runs after the
	// session context is gone.
	offlineTimeout = 5 * time.Second

	// inboundBuffer is how many read frames may wait for the router.
	inboundBuffer = 16
)

// Config tunes sessions.
type Config struct {
	Policy         string
	BaseURL        string
	DetailPath     string
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	SendBuffer     int
}

// ConfigFrom builds a Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Policy:         cfg.Session.Policy,
		BaseURL:        cfg.Site.BaseURL,
		DetailPath:     cfg.Session.DetailPath,
		MaxMessageSize: int64(cfg.WebSocket.MaxMessageSize),
		PingInterval:   time.Duration(cfg.WebSocket.PingInterval) * time.Second,
		PongWait:       time.Duration(cfg.WebSocket.PongTimeout) * time.Second,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = config.SessionPolicyMulti
	}
	if c.DetailPath == "" {
		c.DetailPath = DefaultDetailPath
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	return c
}

// DetailURL is the deep link to a device's page.
func (c Config) DetailURL(deviceID string) string {
	return strings.TrimRight(c.BaseURL, "/") + strings.ReplaceAll(c.DetailPath, "{id}", deviceID)
}
