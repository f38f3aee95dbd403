// Package main provides the Lynx server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Alerting      AlertingConfig      `yaml:"alerting"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
	Retention     RetentionConfig     `yaml:"retention"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	GRPCAddress    string     `yaml:"grpc_address"`    // agent gRPC listen address (default: :9443)
	HTTPAddress    string     `yaml:"http_address"`    // REST API listen address (default: :8080)
	MetricsAddress string     `yaml:"metrics_address"` // Prometheus listen address (default: :9090, "-" disables)
	HTTPTLS        TLSConfig  `yaml:"http_tls"`
	GRPCTLS        MTLSConfig `yaml:"grpc_tls"` // mutual TLS for agents
}

// TLSConfig contains TLS settings for the REST API.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MTLSConfig contains mutual TLS settings for the agent gRPC server.
type MTLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CertFile     string `yaml:"cert_file"`      // hub certificate
	KeyFile      string `yaml:"key_file"`       // hub private key
	ClientCAFile string `yaml:"client_ca_file"` // CA that signs agent certificates
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // default: ./data/lynx.db
}

// ClickHouseConfig moves the telemetry series to ClickHouse when enabled.
type ClickHouseConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Addresses     []string `yaml:"addresses"`
	Database      string   `yaml:"database"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	Compression   bool     `yaml:"compression"`
	RetentionDays int      `yaml:"retention_days"`
}

// AlertingConfig contains alert engine settings. Durations use Go syntax.
type AlertingConfig struct {
	DefaultCooldown    string            `yaml:"default_cooldown"`    // default: 30m
	SeverityCooldowns  map[string]string `yaml:"severity_cooldowns"`  // severity -> duration
	EvaluationInterval string            `yaml:"evaluation_interval"` // default: 1m, "0" disables
	Workers            int               `yaml:"workers"`             // periodic evaluation parallelism
}

// NotificationsConfig contains dispatcher settings.
type NotificationsConfig struct {
	Workers            int    `yaml:"workers"`
	QueueSize          int    `yaml:"queue_size"`
	MaxAttempts        int    `yaml:"max_attempts"`
	InitialBackoff     string `yaml:"initial_backoff"`
	MaxBackoff         string `yaml:"max_backoff"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"` // 0 disables
	Timeout            string `yaml:"timeout"`
}

// APIConfig contains REST API limits.
type APIConfig struct {
	QueryTimeout     string `yaml:"query_timeout"`   // default: 10s
	MaxQueryRange    string `yaml:"max_query_range"` // default: 720h
	RateLimitPerUser int    `yaml:"rate_limit_per_user"`
	RateLimitIngest  int    `yaml:"rate_limit_ingest"`
}

// RetentionConfig controls telemetry cleanup.
type RetentionConfig struct {
	MetricsDays int    `yaml:"metrics_days"` // default: 30, negative disables
	Interval    string `yaml:"interval"`     // default: 1h
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.GRPCAddress == "" {
		c.Server.GRPCAddress = ":9443"
	}
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/lynx.db"
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "lynx"
	}
	if c.ClickHouse.RetentionDays == 0 {
		c.ClickHouse.RetentionDays = 30
	}
	if c.Alerting.DefaultCooldown == "" {
		c.Alerting.DefaultCooldown = "30m"
	}
	if c.Alerting.EvaluationInterval == "" {
		c.Alerting.EvaluationInterval = "1m"
	}
	if c.Alerting.Workers == 0 {
		c.Alerting.Workers = 4
	}
	if c.Notifications.Workers == 0 {
		c.Notifications.Workers = 4
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Notifications.MaxAttempts == 0 {
		c.Notifications.MaxAttempts = 3
	}
	if c.Notifications.InitialBackoff == "" {
		c.Notifications.InitialBackoff = "500ms"
	}
	if c.Notifications.MaxBackoff == "" {
		c.Notifications.MaxBackoff = "10s"
	}
	if c.Notifications.Timeout == "" {
		c.Notifications.Timeout = "30s"
	}
	if c.API.QueryTimeout == "" {
		c.API.QueryTimeout = "10s"
	}
	if c.API.MaxQueryRange == "" {
		c.API.MaxQueryRange = "720h"
	}
	if c.Retention.MetricsDays == 0 {
		c.Retention.MetricsDays = 30
	}
	if c.Retention.Interval == "" {
		c.Retention.Interval = "1h"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.GRPCAddress == "" {
		return fmt.Errorf("server.grpc_address is required")
	}
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if c.Server.HTTPTLS.Enabled {
		if c.Server.HTTPTLS.CertFile == "" {
			return fmt.Errorf("server.http_tls.cert_file is required when TLS is enabled")
		}
		if c.Server.HTTPTLS.KeyFile == "" {
			return fmt.Errorf("server.http_tls.key_file is required when TLS is enabled")
		}
	}
	if c.Server.GRPCTLS.Enabled {
		if c.Server.GRPCTLS.CertFile == "" {
			return fmt.Errorf("server.grpc_tls.cert_file is required when TLS is enabled")
		}
		if c.Server.GRPCTLS.KeyFile == "" {
			return fmt.Errorf("server.grpc_tls.key_file is required when TLS is enabled")
		}
		if c.Server.GRPCTLS.ClientCAFile == "" {
			return fmt.Errorf("server.grpc_tls.client_ca_file is required when TLS is enabled")
		}
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addresses) == 0 {
		return fmt.Errorf("clickhouse.addresses is required when clickhouse is enabled")
	}

	durations := []struct {
		name  string
		value string
		zero  bool
	}{
		{"alerting.default_cooldown", c.Alerting.DefaultCooldown, true},
		{"alerting.evaluation_interval", c.Alerting.EvaluationInterval, true},
		{"notifications.initial_backoff", c.Notifications.InitialBackoff, false},
		{"notifications.max_backoff", c.Notifications.MaxBackoff, false},
		{"notifications.timeout", c.Notifications.Timeout, false},
		{"api.query_timeout", c.API.QueryTimeout, false},
		{"api.max_query_range", c.API.MaxQueryRange, false},
		{"retention.interval", c.Retention.Interval, false},
	}
	for _, d := range durations {
		if err := checkDuration(d.name, d.value, d.zero); err != nil {
			return err
		}
	}

	for severity, value := range c.Alerting.SeverityCooldowns {
		if models.ParseSeverity(severity) != models.Severity(severity) {
			return fmt.Errorf("alerting.severity_cooldowns: unknown severity %q", severity)
		}
		if err := checkDuration("alerting.severity_cooldowns."+severity, value, true); err != nil {
			return err
		}
	}

	if c.Notifications.Workers < 0 || c.Notifications.QueueSize < 0 || c.Notifications.MaxAttempts < 0 {
		return fmt.Errorf("notifications: workers, queue_size and max_attempts must not be negative")
	}
	if c.Notifications.RateLimitPerMinute < 0 {
		return fmt.Errorf("notifications.rate_limit_per_minute must not be negative")
	}
	return nil
}

func checkDuration(name, value string, allowZero bool) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, value)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// duration parses a value already checked by Validate.
func duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// severityCooldowns converts the validated severity map.
func (c *AlertingConfig) severityCooldowns() map[models.Severity]time.Duration {
	out := make(map[models.Severity]time.Duration, len(c.SeverityCooldowns))
	for severity, value := range c.SeverityCooldowns {
		out[models.Severity(severity)] = duration(value)
	}
	return out
}
