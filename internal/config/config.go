// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	CaseAPI       CaseAPIConfig       `yaml:"case_api"`
	Panel         PanelConfig         `yaml:"panel"`
	Session       SessionConfig       `yaml:"session"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"VETDESK_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// CaseAPIConfig describes the remote case-management service.
type CaseAPIConfig struct {
	BaseURL        string               `yaml:"base_url" env:"VETDESK_CASE_API_BASE_URL"`
	Timeout        time.Duration        `yaml:"timeout" env:"VETDESK_CASE_API_TIMEOUT"`
	MaxUploadBytes int64                `yaml:"max_upload_bytes"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings for the case API.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings for idempotent case API calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// Undo fallbacks for servers without a restore endpoint.
const (
	UndoFallbackNone     = "none"
	UndoFallbackRecreate = "recreate"
)

// PanelConfig describes the case list behaviour.
type PanelConfig struct {
	PageSize              int           `yaml:"page_size" env:"VETDESK_PANEL_PAGE_SIZE"`
	SearchDebounce        time.Duration `yaml:"search_debounce"`
	ExportBatchSize       int           `yaml:"export_batch_size"`
	ExportMaxBatches      int           `yaml:"export_max_batches"`
	ExportBatchDelay      time.Duration `yaml:"export_batch_delay"`
	BulkDeleteConcurrency int           `yaml:"bulk_delete_concurrency"`
	UndoFallback          string        `yaml:"undo_fallback" env:"VETDESK_PANEL_UNDO_FALLBACK"`
	IdleTTL               time.Duration `yaml:"idle_ttl"`
	JanitorInterval       time.Duration `yaml:"janitor_interval"`
}

// SessionConfig describes browser session persistence.
type SessionConfig struct {
	Driver          string `yaml:"driver" env:"VETDESK_SESSION_DRIVER"`
	AddrEnv         string `yaml:"addr_env"`
	DB              int    `yaml:"db"`
	CookieName      string `yaml:"cookie_name"`
	CookieSecretEnv string `yaml:"cookie_secret_env"`
	CookieMaxAge    int    `yaml:"cookie_max_age"`
	CookieSecure    bool   `yaml:"cookie_secure"`
}

// AuditConfig describes the destructive-action journal.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" env:"VETDESK_AUDIT_ENABLED"`
	Driver          string        `yaml:"driver" env:"VETDESK_AUDIT_DRIVER"`
	DSNEnv          string        `yaml:"dsn_env"`
	Migrate         bool          `yaml:"migrate"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level" env:"VETDESK_OBSERVABILITY_LOG_LEVEL"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"VETDESK_TRACING_ENABLED"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint" env:"VETDESK_TRACING_ENDPOINT"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			HandlerTimeout:  4 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		CaseAPI: CaseAPIConfig{
			Timeout:        15 * time.Second,
			MaxUploadBytes: 20 << 20,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    200 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Panel: PanelConfig{
			PageSize:              10,
			SearchDebounce:        300 * time.Millisecond,
			ExportBatchSize:       200,
			ExportMaxBatches:      1000,
			ExportBatchDelay:      50 * time.Millisecond,
			BulkDeleteConcurrency: 4,
			UndoFallback:          UndoFallbackNone,
			IdleTTL:               2 * time.Hour,
			JanitorInterval:       5 * time.Minute,
		},
		Session: SessionConfig{
			Driver:          "memory",
			AddrEnv:         "VETDESK_REDIS_ADDR",
			CookieName:      "vetdesk_session",
			CookieSecretEnv: "VETDESK_COOKIE_SECRET",
			CookieMaxAge:    86400 * 7,
		},
		Audit: AuditConfig{
			Driver:          "memory",
			DSNEnv:          "VETDESK_AUDIT_DSN",
			Migrate:         true,
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies VETDESK_* environment variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.CaseAPI.BaseURL == "" {
		errs = append(errs, "case_api.base_url is required")
	}
	if c.CaseAPI.Timeout <= 0 {
		errs = append(errs, "case_api.timeout must be positive")
	}
	if c.Panel.PageSize < 1 || c.Panel.PageSize > 500 {
		errs = append(errs, "panel.page_size must be between 1 and 500")
	}
	if c.Panel.ExportBatchSize < 1 || c.Panel.ExportBatchSize > 500 {
		errs = append(errs, "panel.export_batch_size must be between 1 and 500")
	}
	if c.Panel.ExportMaxBatches < 1 {
		errs = append(errs, "panel.export_max_batches must be positive")
	}
	if c.Panel.BulkDeleteConcurrency < 1 {
		errs = append(errs, "panel.bulk_delete_concurrency must be positive")
	}
	switch c.Panel.UndoFallback {
	case UndoFallbackNone, UndoFallbackRecreate:
	default:
		errs = append(errs, fmt.Sprintf("panel.undo_fallback %q must be none or recreate", c.Panel.UndoFallback))
	}
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.driver %q must be memory or redis", c.Session.Driver))
	}
	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level %q must be debug, info, warn or error", c.Observability.LogLevel))
	}
	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case "memory", "postgres":
		default:
			errs = append(errs, fmt.Sprintf("audit.driver %q must be memory or postgres", c.Audit.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
