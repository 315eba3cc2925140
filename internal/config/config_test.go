package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func writeConfig(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Project defaults
	if cfg.Source.Key != "source" || cfg.Target.Key != "target" {
		t.Errorf("expected project keys source/target, got %s/%s", cfg.Source.Key, cfg.Target.Key)
	}
	if cfg.Source.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %s", cfg.Source.Driver)
	}
	if cfg.Target.DSN != "target.db" {
		t.Errorf("expected DSN target.db, got %s", cfg.Target.DSN)
	}

	// Sync defaults
	if cfg.Sync.Namespace != "catalog-sync" {
		t.Errorf("expected namespace catalog-sync, got %s", cfg.Sync.Namespace)
	}
	if len(cfg.Sync.Modules) != 1 || cfg.Sync.Modules[0] != "all" {
		t.Errorf("expected modules [all], got %v", cfg.Sync.Modules)
	}
	if cfg.Sync.FailurePolicy != "continue" {
		t.Errorf("expected failure_policy continue, got %s", cfg.Sync.FailurePolicy)
	}
	if cfg.Sync.PageSize != 100 {
		t.Errorf("expected page_size 100, got %d", cfg.Sync.PageSize)
	}

	if cfg.History.Enabled {
		t.Error("expected history disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	configPath := "/etc/catalogsync/config.toml"

	writeConfig(t, fs, configPath, `
[source]
project_key = "staging"
dsn = "/data/staging.db"

[target]
project_key = "production"
dsn = "/data/production.db"
conn_max_lifetime = "1m"

[sync]
runner_name = "nightly"
modules = ["types", "category"]
failure_policy = "halt"
page_size = 250

[history]
enabled = true

[logging]
level = "debug"
format = "json"
`)

	cfg, err := LoadFromFile(fs, configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Check overridden values
	if cfg.Source.Key != "staging" {
		t.Errorf("expected source key staging, got %s", cfg.Source.Key)
	}
	if cfg.Target.DSN != "/data/production.db" {
		t.Errorf("expected target DSN /data/production.db, got %s", cfg.Target.DSN)
	}
	if cfg.Target.ConnMaxLifetime != time.Minute {
		t.Errorf("expected conn_max_lifetime 1m, got %v", cfg.Target.ConnMaxLifetime)
	}
	if cfg.Sync.RunnerName != "nightly" {
		t.Errorf("expected runner_name nightly, got %s", cfg.Sync.RunnerName)
	}
	if strings.Join(cfg.Sync.Modules, ",") != "types,category" {
		t.Errorf("expected modules [types category], got %v", cfg.Sync.Modules)
	}
	if cfg.Sync.Orchestrator().FailurePolicy != "halt" {
		t.Errorf("expected failure_policy halt, got %s", cfg.Sync.FailurePolicy)
	}
	if cfg.Sync.Resource().PageSize != 250 {
		t.Errorf("expected page_size 250, got %d", cfg.Sync.PageSize)
	}
	if !cfg.History.Enabled {
		t.Error("expected history enabled")
	}

	// Check default values still present
	if cfg.Source.Driver != "sqlite3" {
		t.Errorf("expected default driver sqlite3, got %s", cfg.Source.Driver)
	}
	if cfg.Sync.Syncer().Namespace != "catalog-sync" {
		t.Errorf("expected default namespace, got %s", cfg.Sync.Namespace)
	}
	if cfg.History.DSN != "catalogsync-history.db" {
		t.Errorf("expected default history DSN, got %s", cfg.History.DSN)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile(afero.NewMemMapFs(), "/nonexistent/config.toml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "bad.toml", "[sync\nmodules = ")

	if _, err := LoadFromFile(fs, "bad.toml"); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromFile_UnknownKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "typo.toml", "[sync]\nrunner = \"nightly\"\n")

	_, err := LoadFromFile(fs, "typo.toml")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "sync.runner") {
		t.Errorf("expected error to name sync.runner, got %v", err)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig(afero.NewMemMapFs(), "")
	if err != nil {
		t.Fatalf("expected no error for empty config path, got %v", err)
	}

	// Should return defaults
	if cfg.Source.Driver != "sqlite3" {
		t.Errorf("expected default driver, got %s", cfg.Source.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty source key", func(c *Config) { c.Source.Key = "" }, "source project_key"},
		{"same keys", func(c *Config) { c.Target.Key = c.Source.Key }, "must differ"},
		{"empty driver", func(c *Config) { c.Target.Driver = "" }, "target database driver"},
		{"invalid driver", func(c *Config) { c.Source.Driver = "postgres" }, "unsupported source database driver"},
		{"empty DSN", func(c *Config) { c.Target.DSN = "" }, "target database DSN"},
		{"dotted runner", func(c *Config) { c.Sync.RunnerName = "a.b" }, "sync:"},
		{"invalid policy", func(c *Config) { c.Sync.FailurePolicy = "retry" }, "invalid failure policy"},
		{"invalid page size", func(c *Config) { c.Sync.PageSize = 0 }, "page_size"},
		{"history without dsn", func(c *Config) { c.History.Enabled = true; c.History.DSN = "" }, "history dsn"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("expected valid config, got error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

// ============================================================================
// Logging
// ============================================================================

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) returned error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, "text", slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("starting sync", "module", "type")

	if !strings.Contains(stderr.String(), "msg=\"starting sync\" module=type") {
		t.Errorf("unexpected stderr output: %q", stderr.String())
	}
	if strings.Contains(stderr.String(), "hidden") {
		t.Error("debug record should be filtered")
	}

	var record map[string]any
	if err := json.Unmarshal(file.Bytes(), &record); err != nil {
		t.Fatalf("file output is not a single JSON record: %v (%q)", err, file.String())
	}
	if record["msg"] != "starting sync" || record["module"] != "type" {
		t.Errorf("unexpected file record: %v", record)
	}
}

func TestSetupLogger_StderrOnly(t *testing.T) {
	var stderr bytes.Buffer
	logger, cleanup, err := SetupLogger(LoggingConfig{Level: "warn", Format: "json"}, &stderr)
	if err != nil {
		t.Fatalf("failed to set up logger: %v", err)
	}
	defer cleanup()

	logger.Info("quiet")
	logger.Warn("loud")

	if strings.Contains(stderr.String(), "quiet") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(stderr.String(), `"msg":"loud"`) {
		t.Errorf("expected JSON warn record, got %q", stderr.String())
	}
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogsync.log")

	var stderr bytes.Buffer
	logger, cleanup, err := SetupLogger(LoggingConfig{Level: "info", Format: "text", File: path}, &stderr)
	if err != nil {
		t.Fatalf("failed to set up logger: %v", err)
	}
	logger.Info("written twice")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	data, err := afero.ReadFile(afero.NewOsFs(), path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written twice"`) {
		t.Errorf("unexpected log file contents: %q", data)
	}
	if !strings.Contains(stderr.String(), "written twice") {
		t.Errorf("unexpected stderr output: %q", stderr.String())
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	if _, _, err := SetupLogger(LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid level")
	}
}
