package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.CaseAPI.BaseURL != "https://cases.internal" {
		t.Errorf("CaseAPI.BaseURL = %q", cfg.CaseAPI.BaseURL)
	}
	if cfg.CaseAPI.Timeout != 10*time.Second {
		t.Errorf("CaseAPI.Timeout = %v, want 10s", cfg.CaseAPI.Timeout)
	}
	if cfg.CaseAPI.CircuitBreaker.Timeout != 20*time.Second {
		t.Errorf("CircuitBreaker.Timeout = %v, want 20s", cfg.CaseAPI.CircuitBreaker.Timeout)
	}
	// Fields absent from the file keep their defaults.
	if cfg.CaseAPI.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("CircuitBreaker.SuccessThreshold = %d, want default 2", cfg.CaseAPI.CircuitBreaker.SuccessThreshold)
	}
	if cfg.Panel.PageSize != 25 {
		t.Errorf("Panel.PageSize = %d, want 25", cfg.Panel.PageSize)
	}
	if cfg.Panel.SearchDebounce != 250*time.Millisecond {
		t.Errorf("Panel.SearchDebounce = %v, want 250ms", cfg.Panel.SearchDebounce)
	}
	if cfg.Panel.ExportMaxBatches != 1000 {
		t.Errorf("Panel.ExportMaxBatches = %d, want 1000", cfg.Panel.ExportMaxBatches)
	}
	if cfg.Panel.UndoFallback != UndoFallbackRecreate {
		t.Errorf("Panel.UndoFallback = %q, want recreate", cfg.Panel.UndoFallback)
	}
	if cfg.Session.Driver != "redis" {
		t.Errorf("Session.Driver = %q, want redis", cfg.Session.Driver)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Driver != "postgres" {
		t.Errorf("Audit = %+v, want enabled postgres", cfg.Audit)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_base_url(t *testing.T) {
	_, err := Load("testdata/missing_base_url.yaml")
	if err == nil {
		t.Fatal("Load() without case_api.base_url should return error")
	}
	if !strings.Contains(err.Error(), "case_api.base_url") {
		t.Errorf("error = %v, want mention of case_api.base_url", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Panel.PageSize != 10 {
		t.Errorf("default Panel.PageSize = %d, want 10", cfg.Panel.PageSize)
	}
	if cfg.Panel.SearchDebounce != 300*time.Millisecond {
		t.Errorf("default SearchDebounce = %v, want 300ms", cfg.Panel.SearchDebounce)
	}
	if cfg.Panel.ExportBatchSize != 200 {
		t.Errorf("default ExportBatchSize = %d, want 200", cfg.Panel.ExportBatchSize)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VETDESK_SERVER_PORT", "3000")
	t.Setenv("VETDESK_CASE_API_BASE_URL", "http://env-cases:8000")
	t.Setenv("VETDESK_PANEL_PAGE_SIZE", "50")
	t.Setenv("VETDESK_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.CaseAPI.BaseURL != "http://env-cases:8000" {
		t.Errorf("CaseAPI.BaseURL = %q, want env override", cfg.CaseAPI.BaseURL)
	}
	if cfg.Panel.PageSize != 50 {
		t.Errorf("Panel.PageSize = %d, want 50 (env override)", cfg.Panel.PageSize)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestLoad_env_fills_missing_base_url(t *testing.T) {
	t.Setenv("VETDESK_CASE_API_BASE_URL", "http://cases:8000")

	cfg, err := Load("testdata/missing_base_url.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CaseAPI.BaseURL != "http://cases:8000" {
		t.Errorf("CaseAPI.BaseURL = %q", cfg.CaseAPI.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.CaseAPI.BaseURL = "http://cases"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"page size too big", func(c *Config) { c.Panel.PageSize = 501 }, "panel.page_size"},
		{"zero batch", func(c *Config) { c.Panel.ExportBatchSize = 0 }, "panel.export_batch_size"},
		{"bad undo fallback", func(c *Config) { c.Panel.UndoFallback = "magic" }, "panel.undo_fallback"},
		{"bad session driver", func(c *Config) { c.Session.Driver = "etcd" }, "session.driver"},
		{"bad audit driver", func(c *Config) { c.Audit.Enabled = true; c.Audit.Driver = "mysql" }, "audit.driver"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "verbose" }, "observability.log_level"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() on defaults+base_url = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestValidate_joins_all_problems(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("error = %q, want problems joined with '; '", err)
	}
}
