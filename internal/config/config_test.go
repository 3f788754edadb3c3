package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bulb:\n  address: 192.168.1.50\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bulb.Kelvin != 3000 {
		t.Errorf("kelvin default: got %d, want 3000", cfg.Bulb.Kelvin)
	}
	if cfg.Dimming.ActiveBrightness != 0xFFFF {
		t.Errorf("active_brightness default: got %d, want 65535", cfg.Dimming.ActiveBrightness)
	}
	if cfg.Dimming.MinBrightness != 328 {
		t.Errorf("min_brightness default: got %d, want 328", cfg.Dimming.MinBrightness)
	}
	if cfg.Dimming.ActiveTimeout.Duration() != time.Minute {
		t.Errorf("active_timeout default: got %s, want 1m", cfg.Dimming.ActiveTimeout.Duration())
	}
	if cfg.Motion.Webhook.Path != "/motion" {
		t.Errorf("webhook path default: got %q", cfg.Motion.Webhook.Path)
	}
	if cfg.Thermal.IsEnabled() {
		t.Error("thermal should be disabled without a zone path")
	}
	if cfg.Log.GetLevel() != "info" {
		t.Errorf("log level default: got %q, want info", cfg.Log.GetLevel())
	}
}

func TestLoadRequiresBulbAddress(t *testing.T) {
	if _, err := Load(writeConfig(t, "log:\n  level: debug\n")); err == nil {
		t.Fatal("expected error for missing bulb.address")
	}
}

func TestLoadDurationsAndOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
bulb:
  address: 192.168.1.50:56700
  ack: true
dimming:
  active_timeout: 90s
  dim_duration: 2m
  tick_interval: 500ms
  min_brightness: 1000
thermal:
  zone_path: /sys/class/thermal/thermal_zone0/temp
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.Bulb.Ack {
		t.Error("ack not parsed")
	}
	if cfg.Dimming.ActiveTimeout.Duration() != 90*time.Second {
		t.Errorf("active_timeout: got %s", cfg.Dimming.ActiveTimeout.Duration())
	}
	if cfg.Dimming.DimDuration.Duration() != 2*time.Minute {
		t.Errorf("dim_duration: got %s", cfg.Dimming.DimDuration.Duration())
	}
	if cfg.Dimming.TickInterval.Duration() != 500*time.Millisecond {
		t.Errorf("tick_interval: got %s", cfg.Dimming.TickInterval.Duration())
	}
	if cfg.Dimming.MinBrightness != 1000 {
		t.Errorf("min_brightness: got %d", cfg.Dimming.MinBrightness)
	}
	if !cfg.Thermal.IsEnabled() {
		t.Error("thermal should be enabled with a zone path")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("MOTIOND_TEST_BULB", "10.0.0.7")

	cfg, err := Load(writeConfig(t, "bulb:\n  address: ${MOTIOND_TEST_BULB}\nmotion:\n  mqtt:\n    broker: ${MOTIOND_TEST_BROKER:mqtt://localhost:1883}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bulb.Address != "10.0.0.7" {
		t.Errorf("env expansion: got %q", cfg.Bulb.Address)
	}
	if cfg.Motion.MQTT.Broker != "mqtt://localhost:1883" {
		t.Errorf("env default: got %q", cfg.Motion.MQTT.Broker)
	}
}
