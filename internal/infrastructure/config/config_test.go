package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes YAML content to a temp file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, "venue:\n  id: test-venue\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Venue.ID != "test-venue" {
		t.Errorf("Venue.ID = %q, want %q", cfg.Venue.ID, "test-venue")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
	if cfg.DSP.ReconnectBase != 1 {
		t.Errorf("DSP.ReconnectBase = %d, want default 1", cfg.DSP.ReconnectBase)
	}
	if cfg.DSP.ReconnectMax != 30 {
		t.Errorf("DSP.ReconnectMax = %d, want default 30", cfg.DSP.ReconnectMax)
	}
	if cfg.DSP.ClipOnCount != 3 || cfg.DSP.ClipOffCount != 5 {
		t.Errorf("clip hysteresis defaults = %d/%d, want 3/5",
			cfg.DSP.ClipOnCount, cfg.DSP.ClipOffCount)
	}
	if cfg.DSP.MeterListen != ":3131" {
		t.Errorf("DSP.MeterListen = %q, want default :3131", cfg.DSP.MeterListen)
	}
	if cfg.DSP.RecallStagger != 25 {
		t.Errorf("DSP.RecallStagger = %d, want default 25", cfg.DSP.RecallStagger)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
venue:
  id: graystone
api:
  port: 9090
dsp:
  keepalive_interval: 5
  keepalive_failures: 2
  reconnect_jitter: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.DSP.KeepAliveInterval != 5 {
		t.Errorf("DSP.KeepAliveInterval = %d, want 5", cfg.DSP.KeepAliveInterval)
	}
	if cfg.DSP.KeepAliveFailures != 2 {
		t.Errorf("DSP.KeepAliveFailures = %d, want 2", cfg.DSP.KeepAliveFailures)
	}
	if cfg.DSP.ReconnectJitter != 0 {
		t.Errorf("DSP.ReconnectJitter = %v, want 0", cfg.DSP.ReconnectJitter)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "venue:\n  id: graystone\n")

	t.Setenv("DSPCORE_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("DSPCORE_API_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070", cfg.API.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() with missing file should fail")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "empty venue id",
			mutate:  func(c *Config) { c.Venue.ID = "" },
			wantMsg: "venue.id",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantMsg: "api.port",
		},
		{
			name:    "zero keepalive failures",
			mutate:  func(c *Config) { c.DSP.KeepAliveFailures = 0 },
			wantMsg: "keepalive_failures",
		},
		{
			name:    "backoff cap below base",
			mutate:  func(c *Config) { c.DSP.ReconnectBase = 10; c.DSP.ReconnectMax = 5 },
			wantMsg: "reconnect_max",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.DSP.ReconnectJitter = 1.5 },
			wantMsg: "reconnect_jitter",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantMsg: "mqtt.qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.DSP.GetKeepAliveInterval(); got != 10*time.Second {
		t.Errorf("GetKeepAliveInterval() = %v, want 10s", got)
	}
	if got := cfg.DSP.GetCommandTimeout(); got != 5*time.Second {
		t.Errorf("GetCommandTimeout() = %v, want 5s", got)
	}
	if got := cfg.DSP.GetConnectTimeout(); got != 10*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 10s", got)
	}
	if got := cfg.API.Timeouts.GetReadTimeout(); got <= 0 {
		t.Errorf("GetReadTimeout() = %v, want positive", got)
	}
}
