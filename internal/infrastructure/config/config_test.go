package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = testSecret
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  name: "test-site"
  base_url: "https://watch.example.com"
database:
  path: "/tmp/test.db"
api:
  port: 9000
session:
  policy: single
  snapshot_ttl_ms: 0
bus:
  driver: redis
redis:
  addrs: ["127.0.0.1:6390"]
security:
  jwt:
    secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.BaseURL != "https://watch.example.com" {
		t.Errorf("Site.BaseURL = %q", cfg.Site.BaseURL)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.Session.Policy != SessionPolicySingle {
		t.Errorf("Session.Policy = %q, want single", cfg.Session.Policy)
	}
	if cfg.GetSnapshotTTL() != 0 {
		t.Errorf("GetSnapshotTTL() = %v, want 0", cfg.GetSnapshotTTL())
	}
	if cfg.Bus.Driver != BusDriverRedis {
		t.Errorf("Bus.Driver = %q, want redis", cfg.Bus.Driver)
	}
	// Defaults survive partial files.
	if cfg.WebSocket.PingInterval != 30 {
		t.Errorf("WebSocket.PingInterval = %d, want default 30", cfg.WebSocket.PingInterval)
	}
	if cfg.Media.Driver != MediaDriverFile {
		t.Errorf("Media.Driver = %q, want file", cfg.Media.Driver)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "site: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 0
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error")
	}
	if !strings.Contains(err.Error(), "api.port") {
		t.Errorf("error = %v, want mention of api.port", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with secret", mutate: func(*Config) {}},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "unknown session policy",
			mutate:  func(c *Config) { c.Session.Policy = "exclusive" },
			wantErr: "session.policy",
		},
		{
			name:    "negative snapshot ttl",
			mutate:  func(c *Config) { c.Session.SnapshotTTL = -1 },
			wantErr: "snapshot_ttl_ms",
		},
		{
			name:    "unknown bus driver",
			mutate:  func(c *Config) { c.Bus.Driver = "kafka" },
			wantErr: "bus.driver",
		},
		{
			name: "mqtt bus with bad qos",
			mutate: func(c *Config) {
				c.Bus.Driver = BusDriverMQTT
				c.MQTT.QoS = 3
			},
			wantErr: "mqtt.qos",
		},
		{
			name: "redis bus without addrs",
			mutate: func(c *Config) {
				c.Bus.Driver = BusDriverRedis
				c.Redis.Addrs = nil
			},
			wantErr: "redis.addrs",
		},
		{
			name:    "s3 media without bucket",
			mutate:  func(c *Config) { c.Media.Driver = MediaDriverS3 },
			wantErr: "media.s3.bucket",
		},
		{
			name:    "email enabled without host",
			mutate:  func(c *Config) { c.Email.Enabled = true },
			wantErr: "email.host",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Workers.Count = 0 },
			wantErr: "workers.count",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_AggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = ""
	cfg.Workers.Count = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if !strings.Contains(err.Error(), "database.path") || !strings.Contains(err.Error(), "workers.count") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.API.Timeouts = APITimeoutConfig{Read: 5, Write: 10, Idle: 15}
	cfg.Session.SnapshotTTL = 2500

	if got := cfg.GetReadTimeout(); got != 5*time.Second {
		t.Errorf("GetReadTimeout() = %v", got)
	}
	if got := cfg.GetWriteTimeout(); got != 10*time.Second {
		t.Errorf("GetWriteTimeout() = %v", got)
	}
	if got := cfg.GetIdleTimeout(); got != 15*time.Second {
		t.Errorf("GetIdleTimeout() = %v", got)
	}
	if got := cfg.GetSnapshotTTL(); got != 2500*time.Millisecond {
		t.Errorf("GetSnapshotTTL() = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("EDGEWATCH_DATABASE_PATH", "/env/edgewatch.db")
	t.Setenv("EDGEWATCH_BUS_DRIVER", "mqtt")
	t.Setenv("EDGEWATCH_SESSION_POLICY", "single")
	t.Setenv("EDGEWATCH_REDIS_ADDRS", "a:6379,b:6379")
	t.Setenv("EDGEWATCH_JWT_SECRET", testSecret)
	t.Setenv("EDGEWATCH_MEDIA_S3_SECRET_KEY", "s3-secret")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/edgewatch.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Bus.Driver != BusDriverMQTT {
		t.Errorf("Bus.Driver = %q", cfg.Bus.Driver)
	}
	if cfg.Session.Policy != SessionPolicySingle {
		t.Errorf("Session.Policy = %q", cfg.Session.Policy)
	}
	if len(cfg.Redis.Addrs) != 2 || cfg.Redis.Addrs[1] != "b:6379" {
		t.Errorf("Redis.Addrs = %v", cfg.Redis.Addrs)
	}
	if cfg.Security.JWT.Secret != testSecret {
		t.Errorf("Security.JWT.Secret not applied")
	}
	if cfg.Media.S3.SecretKey != "s3-secret" {
		t.Errorf("Media.S3.SecretKey = %q", cfg.Media.S3.SecretKey)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Session.Policy != SessionPolicyMulti {
		t.Errorf("default Session.Policy = %q, want multi", cfg.Session.Policy)
	}
	if cfg.Bus.Driver != BusDriverMemory {
		t.Errorf("default Bus.Driver = %q, want memory", cfg.Bus.Driver)
	}
	if cfg.GetBusDeliveryTimeout() != 250*time.Millisecond {
		t.Errorf("default bus delivery timeout = %v, want 250ms", cfg.GetBusDeliveryTimeout())
	}
	if cfg.GetSnapshotTTL() != 2*time.Second {
		t.Errorf("default snapshot TTL = %v, want 2s", cfg.GetSnapshotTTL())
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		t.Error("default WebSocket.SendBuffer must be positive")
	}
	if !cfg.Database.WALMode {
		t.Error("default Database.WALMode should be true")
	}
	// Defaults alone must fail only on the missing secret.
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("Validate() on defaults = %v, want jwt secret error", err)
	}
	if strings.Count(err.Error(), ";") != 0 {
		t.Errorf("Validate() on defaults reported extra problems: %v", err)
	}
}
