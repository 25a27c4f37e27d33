// Package config provides the unified configuration system for shopgraph.
// It defines a single Config structure covering the shop credentials, the
// query-cost limiter, bulk operation orchestration, timeouts, and
// observability, with validated defaults matching the Admin API's documented
// leaky-bucket parameters.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the unified configuration structure for a shopgraph client.
type Config struct {
	// Shop identifies the store and credentials
	Shop ShopConfig `yaml:"shop" json:"shop"`

	// Limiter controls the cost-aware transport
	Limiter LimiterConfig `yaml:"limiter" json:"limiter"`

	// Bulk controls bulk operation orchestration
	Bulk BulkConfig `yaml:"bulk" json:"bulk"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ShopConfig identifies the target store and API version.
type ShopConfig struct {
	// Domain is the myshopify domain, e.g. "example.myshopify.com"
	Domain string `yaml:"domain" json:"domain"`
	// AccessToken is the Admin API access token sent on every request
	AccessToken string `yaml:"access_token" json:"access_token"`
	// APIVersion selects the Admin API version, e.g. "2024-04"
	APIVersion string `yaml:"api_version" json:"api_version"`
}

// LimiterConfig contains the cost-aware transport settings. The defaults
// mirror the Admin API's advertised budget: a 20000-point bucket restored at
// 1000 points per second.
type LimiterConfig struct {
	// TotalCapacity is the size of the capacity bucket in points
	TotalCapacity int `yaml:"total_capacity" json:"total_capacity"`
	// RestoreAmount is added to the bucket every RestoreInterval
	RestoreAmount int `yaml:"restore_amount" json:"restore_amount"`
	// RestoreInterval is the replenishment tick
	RestoreInterval time.Duration `yaml:"restore_interval" json:"restore_interval"`
	// EstimatedCost is pre-paid for a request whose cost is not yet known
	EstimatedCost int `yaml:"estimated_cost" json:"estimated_cost"`
	// MaxRetries bounds throttling retries per request
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// BackoffBase is the first throttling backoff delay
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	// BackoffFactor multiplies the delay after each retry
	BackoffFactor int `yaml:"backoff_factor" json:"backoff_factor"`
}

// BulkConfig contains bulk operation orchestration settings.
type BulkConfig struct {
	// PollInterval is the delay between status checks
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// ConflictRetryInterval is the delay between submission attempts while
	// another bulk operation is running
	ConflictRetryInterval time.Duration `yaml:"conflict_retry_interval" json:"conflict_retry_interval"`
	// SubmitTimeout bounds the total wall-clock time spent retrying submission
	SubmitTimeout time.Duration `yaml:"submit_timeout" json:"submit_timeout"`
	// DownloadTimeout bounds the result file download
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// TimeoutConfig contains HTTP timeout settings.
type TimeoutConfig struct {
	// Request timeout for individual GraphQL calls
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Idle timeout before closing inactive connections
	Idle time.Duration `yaml:"idle" json:"idle"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// LogLevel sets the zap log level
	LogLevel string `yaml:"log_level" json:"log_level"`
	// EnableMetrics toggles Prometheus metric collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing toggles OpenTelemetry tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
}

// NewDefault returns a Config with production defaults.
func NewDefault() *Config {
	return &Config{
		Shop: ShopConfig{
			APIVersion: "2024-04",
		},
		Limiter: LimiterConfig{
			TotalCapacity:   20000,
			RestoreAmount:   10,
			RestoreInterval: 10 * time.Millisecond,
			EstimatedCost:   1000,
			MaxRetries:      10,
			BackoffBase:     time.Second,
			BackoffFactor:   3,
		},
		Bulk: BulkConfig{
			PollInterval:          2 * time.Second,
			ConflictRetryInterval: 2 * time.Second,
			SubmitTimeout:         600 * time.Second,
			DownloadTimeout:       30 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			Request:    60 * time.Second,
			Connection: 30 * time.Second,
			Idle:       90 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Shop.Domain == "" {
		return fmt.Errorf("shop.domain is required")
	}
	if c.Shop.AccessToken == "" {
		return fmt.Errorf("shop.access_token is required")
	}
	if c.Shop.APIVersion == "" {
		return fmt.Errorf("shop.api_version is required")
	}
	if c.Limiter.TotalCapacity <= 0 {
		return fmt.Errorf("limiter.total_capacity must be positive, got %d", c.Limiter.TotalCapacity)
	}
	if c.Limiter.EstimatedCost <= 0 || c.Limiter.EstimatedCost > c.Limiter.TotalCapacity {
		return fmt.Errorf("limiter.estimated_cost must be in (0, %d], got %d",
			c.Limiter.TotalCapacity, c.Limiter.EstimatedCost)
	}
	if c.Limiter.RestoreAmount <= 0 || c.Limiter.RestoreInterval <= 0 {
		return fmt.Errorf("limiter restore rate must be positive")
	}
	if c.Limiter.MaxRetries <= 0 {
		return fmt.Errorf("limiter.max_retries must be positive, got %d", c.Limiter.MaxRetries)
	}
	if c.Limiter.BackoffFactor < 1 {
		return fmt.Errorf("limiter.backoff_factor must be >= 1, got %d", c.Limiter.BackoffFactor)
	}
	if c.Bulk.PollInterval <= 0 || c.Bulk.ConflictRetryInterval <= 0 {
		return fmt.Errorf("bulk intervals must be positive")
	}
	if c.Bulk.SubmitTimeout <= 0 {
		return fmt.Errorf("bulk.submit_timeout must be positive")
	}
	return nil
}

// Endpoint returns the GraphQL endpoint URL for the configured shop.
func (c *Config) Endpoint() string {
	domain := strings.TrimSuffix(c.Shop.Domain, "/")
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, c.Shop.APIVersion)
}
