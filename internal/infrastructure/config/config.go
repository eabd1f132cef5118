package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the identity core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Email         EmailConfig         `yaml:"email"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
	Logging       LoggingConfig       `yaml:"logging"`
	Security      SecurityConfig      `yaml:"security"`
	Sweeps        SweepsConfig        `yaml:"sweeps"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries notification envelopes to delivery bridges.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
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

// EmailConfig contains transactional email settings.
type EmailConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Provider      string `yaml:"provider"`
	APIKey        string `yaml:"api_key"`
	From          string `yaml:"from"`
	InviteBaseURL string `yaml:"invite_base_url"`
}

// NotificationsConfig sizes the asynchronous notification dispatcher.
type NotificationsConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

// APIConfig contains the operational HTTP server settings (health and metrics).
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig groups every security policy knob.
type SecurityConfig struct {
	JWT         JWTConfig         `yaml:"jwt"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Lockout     LockoutConfig     `yaml:"lockout"`
	Passwords   PasswordsConfig   `yaml:"passwords"`
	Invitations InvitationsConfig `yaml:"invitations"`
	Audit       AuditConfig       `yaml:"audit"`
}

// JWTConfig contains access token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// SessionsConfig controls sliding and absolute session expiry.
type SessionsConfig struct {
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
}

// LockoutConfig controls failed-login throttling.
type LockoutConfig struct {
	Window           time.Duration `yaml:"window"`
	Threshold        int           `yaml:"threshold"`
	ResetOnSuccess   bool          `yaml:"reset_on_success"`
	RevealLocked     bool          `yaml:"reveal_locked"`
	AttemptRetention time.Duration `yaml:"attempt_retention"`
}

// PasswordsConfig controls password history and strength.
type PasswordsConfig struct {
	HistoryDepth     int           `yaml:"history_depth"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	MinLength        int           `yaml:"min_length"`
}

// InvitationsConfig controls invitation lifetime.
type InvitationsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// AuditConfig controls audit retention and buffering.
type AuditConfig struct {
	Retention time.Duration `yaml:"retention"`
	QueueSize int           `yaml:"queue_size"`
}

// SweepsConfig controls how often background retention sweeps run.
type SweepsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// BootstrapConfig describes the first organization created on an empty store.
type BootstrapConfig struct {
	OrganizationName string `yaml:"organization_name"`
	OrganizationSlug string `yaml:"organization_slug"`
	AdminEmail       string `yaml:"admin_email"`
	MaxUsers         int    `yaml:"max_users"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NEERTHULI_SECTION_KEY
// For example: NEERTHULI_DATABASE_PATH, NEERTHULI_JWT_SECRET
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

// Default returns the built-in configuration. Useful for tests and for
// running without a config file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "neerthuli-core",
			Name: "Neer Thuli",
		},
		Database: DatabaseConfig{
			Path:        "./data/neerthuli.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "neerthuli-core",
			},
			QoS:         1,
			TopicPrefix: "neerthuli",
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "security",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Email: EmailConfig{
			Provider: "resend",
		},
		Notifications: NotificationsConfig{
			QueueSize: 256,
			Workers:   2,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			Sessions: SessionsConfig{
				IdleTimeout:         8 * time.Hour,
				MaxLifetime:         30 * 24 * time.Hour,
				InactivityThreshold: 30 * 24 * time.Hour,
			},
			Lockout: LockoutConfig{
				Window:           time.Hour,
				Threshold:        5,
				AttemptRetention: 30 * 24 * time.Hour,
			},
			Passwords: PasswordsConfig{
				HistoryDepth:     12,
				HistoryRetention: 180 * 24 * time.Hour,
				MinLength:        12,
			},
			Invitations: InvitationsConfig{
				TTL: 72 * time.Hour,
			},
			Audit: AuditConfig{
				Retention: 90 * 24 * time.Hour,
				QueueSize: 256,
			},
		},
		Sweeps: SweepsConfig{
			Interval: 15 * time.Minute,
		},
		Bootstrap: BootstrapConfig{
			MaxUsers: 50,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("NEERTHULI_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NEERTHULI_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NEERTHULI_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NEERTHULI_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("NEERTHULI_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Email
	if v := os.Getenv("NEERTHULI_EMAIL_API_KEY"); v != "" {
		cfg.Email.APIKey = v
	}

	// API
	if v := os.Getenv("NEERTHULI_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NEERTHULI_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("NEERTHULI_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("NEERTHULI_LOCKOUT_RESET_ON_SUCCESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.Lockout.ResetOnSuccess = b
		}
	}

	// Bootstrap
	if v := os.Getenv("NEERTHULI_BOOTSTRAP_ADMIN_EMAIL"); v != "" {
		cfg.Bootstrap.AdminEmail = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Email.Enabled {
		if c.Email.Provider != "resend" {
			errs = append(errs, "email.provider must be \"resend\"")
		}
		if c.Email.APIKey == "" {
			errs = append(errs, "email.api_key is required when email is enabled (set NEERTHULI_EMAIL_API_KEY)")
		}
		if c.Email.From == "" {
			errs = append(errs, "email.from is required when email is enabled")
		}
	}

	// Access tokens authorise every tenant-scoped call; weak secrets allow forgery.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NEERTHULI_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	s := c.Security
	if s.Sessions.IdleTimeout <= 0 {
		errs = append(errs, "security.sessions.idle_timeout must be positive")
	}
	if s.Sessions.MaxLifetime < s.Sessions.IdleTimeout {
		errs = append(errs, "security.sessions.max_lifetime must be at least idle_timeout")
	}
	if s.Lockout.Window <= 0 || s.Lockout.Threshold < 1 {
		errs = append(errs, "security.lockout.window and threshold must be positive")
	}
	if s.Passwords.HistoryDepth < 1 {
		errs = append(errs, "security.passwords.history_depth must be at least 1")
	}
	if s.Invitations.TTL <= 0 {
		errs = append(errs, "security.invitations.ttl must be positive")
	}
	if s.Audit.Retention <= 0 {
		errs = append(errs, "security.audit.retention must be positive")
	}
	if c.Sweeps.Interval <= 0 {
		errs = append(errs, "sweeps.interval must be positive")
	}

	if c.Bootstrap.AdminEmail != "" && (c.Bootstrap.OrganizationName == "" || c.Bootstrap.OrganizationSlug == "") {
		errs = append(errs, "bootstrap.organization_name and organization_slug are required with admin_email")
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
