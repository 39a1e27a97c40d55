package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `service_dir: /srv/units
socket_path: /tmp/diakonos.sock
tick_period: 10s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceDir != "/srv/units" {
		t.Errorf("ServiceDir = %q", cfg.ServiceDir)
	}
	if cfg.TickPeriod.Duration != 10*time.Second {
		t.Errorf("TickPeriod = %v", cfg.TickPeriod.Duration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.ServiceDir != "" {
		t.Errorf("ServiceDir = %q, want empty", cfg.ServiceDir)
	}
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()
	cfg := (&Config{}).WithDefaults()

	if cfg.ServiceDir != "./services" {
		t.Errorf("ServiceDir default = %q", cfg.ServiceDir)
	}
	if cfg.TickPeriod.Duration != 5*time.Second {
		t.Errorf("TickPeriod default = %v", cfg.TickPeriod.Duration)
	}
	if cfg.SocketPath == "" || cfg.PidFile == "" || cfg.LogFile == "" {
		t.Error("expected non-empty default paths")
	}
}

func TestWithDefaultsPreservesOverrides(t *testing.T) {
	t.Parallel()
	cfg := (&Config{ServiceDir: "/custom"}).WithDefaults()
	if cfg.ServiceDir != "/custom" {
		t.Errorf("ServiceDir = %q, want /custom", cfg.ServiceDir)
	}
}
