package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for navilinkd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Navilink  NavilinkConfig  `yaml:"navilink"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// NavilinkConfig contains the account and cloud session settings.
type NavilinkConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// PollingInterval is in seconds. Zero validates the credentials and
	// leaves the MQTT session closed.
	PollingInterval int `yaml:"polling_interval"`

	// Backoff is the fixed reconnect delay in seconds.
	Backoff int `yaml:"backoff"`

	// MonitoredMACs limits the session to these gateways. Empty means all.
	MonitoredMACs []string `yaml:"monitored_macs"`

	SubscribeAllTopics bool   `yaml:"subscribe_all_topics"`
	AccountURL         string `yaml:"account_url"`
	Broker             Broker `yaml:"broker"`
}

// Broker contains the AWS IoT endpoint details.
type Broker struct {
	Endpoint   string `yaml:"endpoint"`
	Region     string `yaml:"region"`
	CACertPath string `yaml:"ca_cert_path"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds the state history table. Zero keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// No AllowedOrigins means no cross-origin access.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// NATSConfig contains the state fan-out settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT   JWTConfig   `yaml:"jwt"`
	Admin AdminConfig `yaml:"admin"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// AdminConfig holds the single API operator account.
// PasswordHash is an Argon2id PHC string.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NAVILINK_SECTION_KEY
// For example: NAVILINK_DATABASE_PATH, NAVILINK_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Navilink: NavilinkConfig{
			PollingInterval: 15,
			Backoff:         15,
			AccountURL:      "https://nlus.naviensmartcontrol.com/api/v2",
			Broker: Broker{
				Endpoint:   "a1t30mldyslmuq-ats.iot.us-east-1.amazonaws.com",
				Region:     "us-east-1",
				CACertPath: "/etc/ssl/certs/ca-certificates.crt",
			},
		},
		Database: DatabaseConfig{
			Path:                 "./data/navilink.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "navilink",
			Bucket:        "water_heaters",
			BatchSize:     100,
			FlushInterval: 10,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "navilink.state",
			ReconnectWait: 2,
			MaxReconnects: -1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			Admin: AdminConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NAVILINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Account
	if v := os.Getenv("NAVILINK_USERNAME"); v != "" {
		cfg.Navilink.Username = v
	}
	if v := os.Getenv("NAVILINK_PASSWORD"); v != "" {
		cfg.Navilink.Password = v
	}
	if v := os.Getenv("NAVILINK_POLLING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Navilink.PollingInterval = n
		}
	}
	if v := os.Getenv("NAVILINK_MONITORED_MACS"); v != "" {
		cfg.Navilink.MonitoredMACs = splitList(v)
	}
	if v := os.Getenv("NAVILINK_CA_CERT_PATH"); v != "" {
		cfg.Navilink.Broker.CACertPath = v
	}

	// Database
	if v := os.Getenv("NAVILINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("NAVILINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NAVILINK_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// InfluxDB
	if v := os.Getenv("NAVILINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// NATS
	if v := os.Getenv("NAVILINK_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("NAVILINK_NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("NAVILINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("NAVILINK_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Security.Admin.PasswordHash = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Account validation
	if c.Navilink.Username == "" {
		errs = append(errs, "navilink.username is required (set NAVILINK_USERNAME environment variable)")
	}
	if c.Navilink.Password == "" {
		errs = append(errs, "navilink.password is required (set NAVILINK_PASSWORD environment variable)")
	}
	if c.Navilink.PollingInterval < 0 {
		errs = append(errs, "navilink.polling_interval must not be negative")
	}
	if c.Navilink.Backoff < 0 {
		errs = append(errs, "navilink.backoff must not be negative")
	}
	if c.Navilink.PollingInterval > 0 {
		if c.Navilink.Broker.Endpoint == "" {
			errs = append(errs, "navilink.broker.endpoint is required when polling is enabled")
		}
		if c.Navilink.Broker.CACertPath == "" {
			errs = append(errs, "navilink.broker.ca_cert_path is required when polling is enabled")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when nats is enabled")
	}

	// Device controls are reachable through the API, so a forgeable
	// token means anyone can change a heater setpoint.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NAVILINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollingInterval returns the device polling interval as a Duration.
func (c *Config) GetPollingInterval() time.Duration {
	return time.Duration(c.Navilink.PollingInterval) * time.Second
}

// GetBackoff returns the reconnect backoff as a Duration.
func (c *Config) GetBackoff() time.Duration {
	return time.Duration(c.Navilink.Backoff) * time.Second
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

// GetAccessTokenTTL returns the API token lifetime as a Duration.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// GetReconnectWait returns the NATS reconnect wait as a Duration.
func (n NATSConfig) GetReconnectWait() time.Duration {
	return time.Duration(n.ReconnectWait) * time.Second
}

// GetHistoryRetention returns how long state history is kept.
func (d DatabaseConfig) GetHistoryRetention() time.Duration {
	return time.Duration(d.HistoryRetentionDays) * 24 * time.Hour
}
