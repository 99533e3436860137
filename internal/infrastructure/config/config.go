package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for edgewatch.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
	Bus       BusConfig       `yaml:"bus"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Redis     RedisConfig     `yaml:"redis"`
	Media     MediaConfig     `yaml:"media"`
	Email     EmailConfig     `yaml:"email"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Workers   WorkersConfig   `yaml:"workers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains deployment-wide naming and addressing.
type SiteConfig struct {
	Name string `yaml:"name"`
	// BaseURL is the externally reachable origin used for deep links and
	// media URLs embedded in notifications (e.g. "https://watch.example.com").
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings shared by the device and observer sockets.
type WebSocketConfig struct {
	DevicePath     string `yaml:"device_path"`
	ObserverPath   string `yaml:"observer_path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// Session policies.
const (
	SessionPolicyMulti  = "multi"
	SessionPolicySingle = "single"
)

// SessionConfig controls device session behaviour.
type SessionConfig struct {
	// Policy is "multi" (any number of concurrent sessions per device) or
	// "single" (a second concurrent session for a device is rejected).
	Policy string `yaml:"policy"`

	// SnapshotTTL is the staleness window, in milliseconds, for the cached
	// device record consulted on each inbound frame. 0 refreshes every frame.
	SnapshotTTL int `yaml:"snapshot_ttl_ms"`

	// DetailPath is the path template of the device detail view.
	// "{id}" is replaced with the device ID.
	DetailPath string `yaml:"detail_path"`
}

// Bus drivers.
const (
	BusDriverMemory = "memory"
	BusDriverMQTT   = "mqtt"
	BusDriverRedis  = "redis"
)

// BusConfig selects the Topic Bus implementation.
type BusConfig struct {
	Driver      string `yaml:"driver"`
	TopicPrefix string `yaml:"topic_prefix"`
	// Mailbox is the per-subscriber delivery queue length.
	Mailbox int `yaml:"mailbox"`
	// DeliveryTimeoutMs bounds how long a publisher waits on a full mailbox.
	DeliveryTimeoutMs int `yaml:"delivery_timeout_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// RedisConfig contains Redis connection settings for the Redis bus driver.
type RedisConfig struct {
	Mode       string   `yaml:"mode"`
	Addrs      []string `yaml:"addrs"`
	MasterName string   `yaml:"master_name"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
}

// Media drivers.
const (
	MediaDriverFile = "file"
	MediaDriverS3   = "s3"
)

// MediaConfig selects and configures the media sink.
type MediaConfig struct {
	Driver string `yaml:"driver"`
	// Root is the filesystem directory used by the file driver.
	Root string `yaml:"root"`
	// URLPrefix is the HTTP path the file driver's root is served under.
	URLPrefix string   `yaml:"url_prefix"`
	S3        S3Config `yaml:"s3"`
}

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// URLExpiry is the lifetime, in minutes, of presigned URLs handed to users.
	URLExpiry int `yaml:"url_expiry"`
}

// EmailConfig contains SMTP settings for alert emails.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// WorkersConfig sizes the pool that runs blocking persistence, media and
// email work off the session goroutines.
type WorkersConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for observer (notification socket) tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// TokenTTL is the observer token lifetime in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EDGEWATCH_SECTION_KEY
// For example: EDGEWATCH_DATABASE_PATH, EDGEWATCH_BUS_DRIVER
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Name:    "edgewatch",
			BaseURL: "http://127.0.0.1:8000",
		},
		Database: DatabaseConfig{
			Path:        "./data/edgewatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			DevicePath:     "/ws/device",
			ObserverPath:   "/ws/notifications",
			MaxMessageSize: 16 << 20, // detection frames carry base64 media
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		Session: SessionConfig{
			Policy:      SessionPolicyMulti,
			SnapshotTTL: 2000,
			DetailPath:  "/devices/{id}",
		},
		Bus: BusConfig{
			Driver:            BusDriverMemory,
			TopicPrefix:       "edgewatch",
			Mailbox:           256,
			DeliveryTimeoutMs: 250,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "edgewatch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Redis: RedisConfig{
			Mode:  "single",
			Addrs: []string{"localhost:6379"},
		},
		Media: MediaConfig{
			Driver:    MediaDriverFile,
			Root:      "./data/media",
			URLPrefix: "/media",
			S3: S3Config{
				Region:    "us-east-1",
				URLExpiry: 7 * 24 * 60,
			},
		},
		Email: EmailConfig{
			Port: 587,
		},
		Workers: WorkersConfig{
			Count:     8,
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EDGEWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EDGEWATCH_SITE_BASE_URL"); v != "" {
		cfg.Site.BaseURL = v
	}

	if v := os.Getenv("EDGEWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("EDGEWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("EDGEWATCH_SESSION_POLICY"); v != "" {
		cfg.Session.Policy = v
	}

	if v := os.Getenv("EDGEWATCH_BUS_DRIVER"); v != "" {
		cfg.Bus.Driver = v
	}

	// MQTT
	if v := os.Getenv("EDGEWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EDGEWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EDGEWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Redis
	if v := os.Getenv("EDGEWATCH_REDIS_ADDRS"); v != "" {
		cfg.Redis.Addrs = strings.Split(v, ",")
	}
	if v := os.Getenv("EDGEWATCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Media
	if v := os.Getenv("EDGEWATCH_MEDIA_S3_ACCESS_KEY"); v != "" {
		cfg.Media.S3.AccessKey = v
	}
	if v := os.Getenv("EDGEWATCH_MEDIA_S3_SECRET_KEY"); v != "" {
		cfg.Media.S3.SecretKey = v
	}

	if v := os.Getenv("EDGEWATCH_EMAIL_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}

	if v := os.Getenv("EDGEWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("EDGEWATCH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent field checks
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Session.Policy {
	case SessionPolicyMulti, SessionPolicySingle:
	default:
		errs = append(errs, "session.policy must be \"multi\" or \"single\"")
	}
	if c.Session.SnapshotTTL < 0 {
		errs = append(errs, "session.snapshot_ttl_ms must not be negative")
	}

	switch c.Bus.Driver {
	case BusDriverMemory, BusDriverRedis:
	case BusDriverMQTT:
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	default:
		errs = append(errs, "bus.driver must be one of memory, mqtt, redis")
	}
	if c.Bus.Driver == BusDriverRedis && len(c.Redis.Addrs) == 0 {
		errs = append(errs, "redis.addrs is required for the redis bus driver")
	}

	switch c.Media.Driver {
	case MediaDriverFile:
		if c.Media.Root == "" {
			errs = append(errs, "media.root is required for the file media driver")
		}
	case MediaDriverS3:
		if c.Media.S3.Bucket == "" {
			errs = append(errs, "media.s3.bucket is required for the s3 media driver")
		}
	default:
		errs = append(errs, "media.driver must be file or s3")
	}

	if c.Email.Enabled && (c.Email.Host == "" || c.Email.From == "") {
		errs = append(errs, "email.host and email.from are required when email is enabled")
	}

	if c.Workers.Count < 1 {
		errs = append(errs, "workers.count must be at least 1")
	}

	// Observer tokens grant access to device alerts; a guessable secret
	// would let anyone subscribe to another user's notifications.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set EDGEWATCH_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetSnapshotTTL returns the device snapshot staleness window.
func (c *Config) GetSnapshotTTL() time.Duration {
	return time.Duration(c.Session.SnapshotTTL) * time.Millisecond
}

// GetBusDeliveryTimeout returns how long a bus publish waits on a full
// subscriber mailbox.
func (c *Config) GetBusDeliveryTimeout() time.Duration {
	return time.Duration(c.Bus.DeliveryTimeoutMs) * time.Millisecond
}
