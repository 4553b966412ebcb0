package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Dacs) != 2 {
		t.Fatalf("default dacs = %d, want 2", len(cfg.Dacs))
	}
	if cfg.I2C.ClockHz != 400_000 {
		t.Errorf("default clock = %d", cfg.I2C.ClockHz)
	}
	if cfg.Core.ForceRefreshEvery != 100*time.Millisecond {
		t.Errorf("default refresh = %v", cfg.Core.ForceRefreshEvery)
	}
	if cfg.Core.Recovery.MaxRetryAttempts != 3 {
		t.Errorf("default retries = %d", cfg.Core.Recovery.MaxRetryAttempts)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muppets.yml")
	data := `
log_level: debug
core:
  force_refresh_every: 50ms
  recovery:
    max_retry_attempts: 5
i2c:
  clock_hz: 1000000
dacs:
  - driver: mcp4728
    bus: "1"
    ldac: GPIO11
    async: true
midi:
  serial: /dev/ttyACM0
  baud: 115200
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Core.ForceRefreshEvery != 50*time.Millisecond {
		t.Errorf("refresh = %v", cfg.Core.ForceRefreshEvery)
	}
	if cfg.Core.Recovery.MaxRetryAttempts != 5 {
		t.Errorf("retries = %d", cfg.Core.Recovery.MaxRetryAttempts)
	}
	if cfg.I2C.ClockHz != 1_000_000 {
		t.Errorf("clock = %d", cfg.I2C.ClockHz)
	}
	if len(cfg.Dacs) != 1 || cfg.Dacs[0].Driver != "mcp4728" || !cfg.Dacs[0].Async {
		t.Errorf("dacs = %+v", cfg.Dacs)
	}
	if cfg.Midi.Serial != "/dev/ttyACM0" || cfg.Midi.Baud != 115200 {
		t.Errorf("midi = %+v", cfg.Midi)
	}
}
