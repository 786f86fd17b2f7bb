package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "l9p.yaml")

	content := `
listen: "tcp!0.0.0.0!5640"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MsizeCeiling != 64*1024 {
		t.Errorf("expected default msize_ceiling 65536, got %d", cfg.MsizeCeiling)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default logging level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoadNoConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen == "" {
		t.Error("expected a default listen endpoint")
	}
}

func TestLoadRejectsMsizeBelowFloor(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "l9p.yaml")
	content := `
listen: "tcp!0.0.0.0!5640"
msize_ceiling: 4096
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for msize_ceiling below the protocol floor")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("L9P_LISTEN", "tcp!0.0.0.0!9999")
	t.Setenv("L9P_LOGGING_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "tcp!0.0.0.0!9999" {
		t.Errorf("expected env override of listen, got %q", cfg.Listen)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected env override of logging level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsEnabledMetricsWithoutListen(t *testing.T) {
	cfg := &Config{
		Listen:          "tcp!0.0.0.0!564",
		MsizeCeiling:    65536,
		ShutdownTimeout: 30 * time.Second,
		Logging:         LoggingConfig{Level: "INFO"},
		Metrics:         MetricsConfig{Enabled: true},
		Backend:         BackendConfig{Type: "memfs"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for metrics enabled without a listen address")
	}
}

func TestLoadDefaultsBackendToMemfs(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Type != "memfs" {
		t.Errorf("expected default backend memfs, got %q", cfg.Backend.Type)
	}
}

func TestValidateRejectsBadgerWithoutDir(t *testing.T) {
	cfg := &Config{
		Listen:          "tcp!0.0.0.0!564",
		MsizeCeiling:    65536,
		ShutdownTimeout: 30 * time.Second,
		Logging:         LoggingConfig{Level: "INFO"},
		Backend:         BackendConfig{Type: "badger"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for badger backend without a database directory")
	}
}
