package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// validConfig returns a config that passes Validate.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Navilink.Username = "user@example.com"
	cfg.Navilink.Password = "hunter2"
	cfg.Security.JWT.Secret = validJWTSecret
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
navilink:
  username: "user@example.com"
  password: "hunter2"
  polling_interval: 30
  monitored_macs: ["aabbccddeeff"]
  broker:
    ca_cert_path: "/tmp/AmazonRootCA1.pem"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Navilink.Username != "user@example.com" {
		t.Errorf("Navilink.Username = %q, want %q", cfg.Navilink.Username, "user@example.com")
	}
	if cfg.GetPollingInterval() != 30*time.Second {
		t.Errorf("GetPollingInterval() = %v, want 30s", cfg.GetPollingInterval())
	}
	if !reflect.DeepEqual(cfg.Navilink.MonitoredMACs, []string{"aabbccddeeff"}) {
		t.Errorf("MonitoredMACs = %v", cfg.Navilink.MonitoredMACs)
	}
	if cfg.Navilink.Broker.CACertPath != "/tmp/AmazonRootCA1.pem" {
		t.Errorf("CACertPath = %q", cfg.Navilink.Broker.CACertPath)
	}
	// Untouched keys keep their defaults.
	if cfg.Navilink.Broker.Region != "us-east-1" {
		t.Errorf("Broker.Region = %q, want default us-east-1", cfg.Navilink.Broker.Region)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing credentials, got nil")
	}
	for _, want := range []string{"navilink.username", "navilink.password", "security.jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"login only needs no broker", func(c *Config) {
			c.Navilink.PollingInterval = 0
			c.Navilink.Broker = Broker{}
		}, false},
		{"missing username", func(c *Config) { c.Navilink.Username = "" }, true},
		{"missing password", func(c *Config) { c.Navilink.Password = "" }, true},
		{"negative polling interval", func(c *Config) { c.Navilink.PollingInterval = -1 }, true},
		{"negative backoff", func(c *Config) { c.Navilink.Backoff = -5 }, true},
		{"polling without endpoint", func(c *Config) { c.Navilink.Broker.Endpoint = "" }, true},
		{"polling without CA", func(c *Config) { c.Navilink.Broker.CACertPath = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"nats enabled without url", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URL = ""
		}, true},
		{"missing JWT secret", func(c *Config) { c.Security.JWT.Secret = "" }, true},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Navilink: NavilinkConfig{PollingInterval: 15, Backoff: 20},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 90}},
		NATS:     NATSConfig{ReconnectWait: 2},
		Database: DatabaseConfig{HistoryRetentionDays: 30},
	}

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"GetPollingInterval", cfg.GetPollingInterval(), 15 * time.Second},
		{"GetBackoff", cfg.GetBackoff(), 20 * time.Second},
		{"GetReadTimeout", cfg.GetReadTimeout(), 30 * time.Second},
		{"GetWriteTimeout", cfg.GetWriteTimeout(), 45 * time.Second},
		{"GetIdleTimeout", cfg.GetIdleTimeout(), 60 * time.Second},
		{"GetAccessTokenTTL", cfg.GetAccessTokenTTL(), 90 * time.Minute},
		{"GetReconnectWait", cfg.NATS.GetReconnectWait(), 2 * time.Second},
		{"GetHistoryRetention", cfg.Database.GetHistoryRetention(), 30 * 24 * time.Hour},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s() = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("NAVILINK_USERNAME", "env-user")
	t.Setenv("NAVILINK_PASSWORD", "env-pass")
	t.Setenv("NAVILINK_POLLING_INTERVAL", "45")
	t.Setenv("NAVILINK_MONITORED_MACS", "aa, bb,,cc ")
	t.Setenv("NAVILINK_CA_CERT_PATH", "/certs/root.pem")
	t.Setenv("NAVILINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("NAVILINK_API_HOST", "192.168.1.1")
	t.Setenv("NAVILINK_API_PORT", "9090")
	t.Setenv("NAVILINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("NAVILINK_NATS_URL", "nats://broker:4222")
	t.Setenv("NAVILINK_JWT_SECRET", "jwt-secret")
	t.Setenv("NAVILINK_ADMIN_PASSWORD_HASH", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA")

	applyEnvOverrides(cfg)

	if cfg.Navilink.Username != "env-user" || cfg.Navilink.Password != "env-pass" {
		t.Errorf("account = %q/%q", cfg.Navilink.Username, cfg.Navilink.Password)
	}
	if cfg.Navilink.PollingInterval != 45 {
		t.Errorf("PollingInterval = %d, want 45", cfg.Navilink.PollingInterval)
	}
	if !reflect.DeepEqual(cfg.Navilink.MonitoredMACs, []string{"aa", "bb", "cc"}) {
		t.Errorf("MonitoredMACs = %v, want [aa bb cc]", cfg.Navilink.MonitoredMACs)
	}
	if cfg.Navilink.Broker.CACertPath != "/certs/root.pem" {
		t.Errorf("CACertPath = %q", cfg.Navilink.Broker.CACertPath)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.API.Host != "192.168.1.1" || cfg.API.Port != 9090 {
		t.Errorf("API = %s:%d", cfg.API.Host, cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
	if !strings.HasPrefix(cfg.Security.Admin.PasswordHash, "$argon2id$") {
		t.Errorf("Admin.PasswordHash = %q", cfg.Security.Admin.PasswordHash)
	}
}

func TestApplyEnvOverrides_IgnoresBadNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("NAVILINK_POLLING_INTERVAL", "soon")
	t.Setenv("NAVILINK_API_PORT", "eighty")

	applyEnvOverrides(cfg)

	if cfg.Navilink.PollingInterval != 15 || cfg.API.Port != 8080 {
		t.Errorf("bad numbers overrode defaults: interval %d port %d", cfg.Navilink.PollingInterval, cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Navilink.PollingInterval != 15 || cfg.Navilink.Backoff != 15 {
		t.Errorf("defaults = interval %d backoff %d, want 15/15", cfg.Navilink.PollingInterval, cfg.Navilink.Backoff)
	}
	if cfg.Navilink.AccountURL == "" || cfg.Navilink.Broker.Endpoint == "" {
		t.Error("defaultConfig should carry the cloud endpoints")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.InfluxDB.Enabled || cfg.NATS.Enabled {
		t.Error("optional sinks should default to disabled")
	}
}
