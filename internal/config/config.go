// Package config loads relay configuration from a YAML file with .env and
// environment-variable overrides layered on top.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relay.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	SparkPost   SparkPostConfig   `yaml:"sparkpost"`
	Mailgun     MailgunConfig     `yaml:"mailgun"`
	SES         SESConfig         `yaml:"ses"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Events      EventsConfig      `yaml:"events"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis backend for rate limiting and locks.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// SparkPostConfig holds SparkPost API configuration.
type SparkPostConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Enabled   bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// MailgunConfig holds Mailgun API configuration.
type MailgunConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Domain    string `yaml:"domain"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Enabled   bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c MailgunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Enabled   bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DispatchConfig tunes the send gateway's retry loop.
type DispatchConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// BaseDelay returns the initial retry delay.
func (c DispatchConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff cap.
func (c DispatchConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// RateLimitConfig tunes the send-budget window. Backend selects where the
// counters live: "memory" (default), "redis", or "postgres".
type RateLimitConfig struct {
	MaxRequests int    `yaml:"max_requests"`
	WindowMS    int    `yaml:"window_ms"`
	Backend     string `yaml:"backend"`
}

// Window returns the budget window duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// WebhookConfig tunes webhook ingestion.
type WebhookConfig struct {
	Secret             string `yaml:"secret"`
	SignatureMandatory bool   `yaml:"signature_mandatory"`
	GlobalCap          int    `yaml:"global_cap"`
	PerIPCap           int    `yaml:"per_ip_cap"`
	WindowMS           int    `yaml:"window_ms"`
}

// Window returns the ingestion limiter window.
func (c WebhookConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// EventsConfig holds downstream fan-out settings.
type EventsConfig struct {
	SQSQueueURL string `yaml:"sqs_queue_url"`
	AWSRegion   string `yaml:"aws_region"`
	Enabled     bool   `yaml:"enabled"`
}

// MaintenanceConfig tunes the background sweeps.
type MaintenanceConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	BatchSize          int `yaml:"batch_size"`
	RetentionDays      int `yaml:"retention_days"`
	ReconcileMaxAgeHrs int `yaml:"reconcile_max_age_hours"`
}

// Interval returns the sweep cadence.
func (c MaintenanceConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ReconcileMaxAge returns how long an unprocessed event is retried.
func (c MaintenanceConfig) ReconcileMaxAge() time.Duration {
	return time.Duration(c.ReconcileMaxAgeHrs) * time.Hour
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.SparkPost.TimeoutMS == 0 {
		cfg.SparkPost.TimeoutMS = 30000
	}
	if cfg.Mailgun.BaseURL == "" {
		cfg.Mailgun.BaseURL = "https://api.mailgun.net"
	}
	if cfg.Mailgun.TimeoutMS == 0 {
		cfg.Mailgun.TimeoutMS = 30000
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SES.TimeoutMS == 0 {
		cfg.SES.TimeoutMS = 30000
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 3
	}
	if cfg.Dispatch.BaseDelayMS == 0 {
		cfg.Dispatch.BaseDelayMS = 1000
	}
	if cfg.Dispatch.MaxDelayMS == 0 {
		cfg.Dispatch.MaxDelayMS = 30000
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 100
	}
	if cfg.RateLimit.WindowMS == 0 {
		cfg.RateLimit.WindowMS = 60000
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.Webhook.GlobalCap == 0 {
		cfg.Webhook.GlobalCap = 1000
	}
	if cfg.Webhook.PerIPCap == 0 {
		cfg.Webhook.PerIPCap = 100
	}
	if cfg.Webhook.WindowMS == 0 {
		cfg.Webhook.WindowMS = 3600000
	}
	if cfg.Events.AWSRegion == "" {
		cfg.Events.AWSRegion = "us-west-2"
	}
	if cfg.Maintenance.IntervalSeconds == 0 {
		cfg.Maintenance.IntervalSeconds = 30
	}
	if cfg.Maintenance.BatchSize == 0 {
		cfg.Maintenance.BatchSize = 1000
	}
	if cfg.Maintenance.RetentionDays == 0 {
		cfg.Maintenance.RetentionDays = 30
	}
	if cfg.Maintenance.ReconcileMaxAgeHrs == 0 {
		cfg.Maintenance.ReconcileMaxAgeHrs = 6
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.SparkPost.APIKey = v
		cfg.SparkPost.Enabled = true
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.SparkPost.BaseURL = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Mailgun.APIKey = v
		cfg.Mailgun.Enabled = true
	}
	if v := os.Getenv("MAILGUN_BASE_URL"); v != "" {
		cfg.Mailgun.BaseURL = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		cfg.Mailgun.Domain = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if os.Getenv("WEBHOOK_SIGNATURE_MANDATORY") == "true" {
		cfg.Webhook.SignatureMandatory = true
	}
	if v := os.Getenv("EVENTS_SQS_QUEUE_URL"); v != "" {
		cfg.Events.SQSQueueURL = v
		cfg.Events.Enabled = true
	}

	return cfg, nil
}
