package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
node:
  id: "node-lobby"
  location:
    x: 12.5
    y: 3
scanner:
  threshold_rssi: -75
  minimum_interval: 30s
  max_concurrent_attempts: 4
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Node.ID != "node-lobby" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "node-lobby")
	}
	if cfg.Node.Location.X != 12.5 || cfg.Node.Location.Y != 3 {
		t.Errorf("Node.Location = %+v, want {12.5 3}", cfg.Node.Location)
	}
	if cfg.Scanner.ThresholdRSSI != -75 {
		t.Errorf("Scanner.ThresholdRSSI = %d, want -75", cfg.Scanner.ThresholdRSSI)
	}
	if cfg.Scanner.MinimumInterval != 30*time.Second {
		t.Errorf("Scanner.MinimumInterval = %v, want 30s", cfg.Scanner.MinimumInterval)
	}
	if cfg.Scanner.MaxConcurrentAttempts != 4 {
		t.Errorf("Scanner.MaxConcurrentAttempts = %d, want 4", cfg.Scanner.MaxConcurrentAttempts)
	}
	// Unset keys keep their defaults.
	if cfg.Scanner.ConnectTimeout != 10*time.Second {
		t.Errorf("Scanner.ConnectTimeout = %v, want default 10s", cfg.Scanner.ConnectTimeout)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Scanner.ThresholdRSSI != -80 {
		t.Errorf("Scanner.ThresholdRSSI = %d, want -80", cfg.Scanner.ThresholdRSSI)
	}
	if cfg.Scanner.MinimumInterval != 5*time.Second {
		t.Errorf("Scanner.MinimumInterval = %v, want 5s", cfg.Scanner.MinimumInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
scanner:
  minimum_interval: -5s
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for negative interval, got nil")
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Load() error = %v, want ErrInvalidArgument", err)
	}
}

func TestLoad_InvalidLocationEnv(t *testing.T) {
	t.Setenv("BTLESNIFFER_LOCATION_X", "east")

	_, err := Load("")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Load() error = %v, want ErrInvalidArgument", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(*Config) {}},
		{
			name:   "valid jwt secret",
			modify: func(c *Config) { c.Security.JWT.Secret = validJWTSecret },
		},
		{
			name:    "missing node ID",
			modify:  func(c *Config) { c.Node.ID = "" },
			wantErr: true,
		},
		{
			name:   "threshold at lower bound",
			modify: func(c *Config) { c.Scanner.ThresholdRSSI = -127 },
		},
		{
			name:    "threshold below lower bound",
			modify:  func(c *Config) { c.Scanner.ThresholdRSSI = -128 },
			wantErr: true,
		},
		{
			name:    "threshold above upper bound",
			modify:  func(c *Config) { c.Scanner.ThresholdRSSI = 21 },
			wantErr: true,
		},
		{
			name:   "zero minimum interval",
			modify: func(c *Config) { c.Scanner.MinimumInterval = 0 },
		},
		{
			name:    "negative minimum interval",
			modify:  func(c *Config) { c.Scanner.MinimumInterval = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.Scanner.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.Scanner.MaxConcurrentAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative attempt rate",
			modify:  func(c *Config) { c.Scanner.AttemptsPerSecond = -1 },
			wantErr: true,
		},
		{
			name: "rate without burst",
			modify: func(c *Config) {
				c.Scanner.AttemptsPerSecond = 2
				c.Scanner.AttemptBurst = 0
			},
			wantErr: true,
		},
		{
			name: "unlimited rate ignores burst",
			modify: func(c *Config) {
				c.Scanner.AttemptsPerSecond = 0
				c.Scanner.AttemptBurst = 0
			},
		},
		{
			name:    "negative eviction",
			modify:  func(c *Config) { c.Scanner.EvictAfter = -time.Minute },
			wantErr: true,
		},
		{
			name:    "missing database path",
			modify:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name: "disabled database without path",
			modify: func(c *Config) {
				c.Database.Enabled = false
				c.Database.Path = ""
			},
		},
		{
			name: "invalid QoS",
			modify: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "influxdb without url",
			modify: func(c *Config) {
				c.InfluxDB.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "invalid port low",
			modify: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid port high",
			modify: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: true,
		},
		{
			name:    "JWT secret too short",
			modify:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Validate() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestConfig_Apply(t *testing.T) {
	cfg := Default()
	threshold := -60
	interval := 45 * time.Second

	err := cfg.Apply(Overrides{
		ThresholdRSSI:   &threshold,
		MinimumInterval: &interval,
		LogLevel:        "debug",
		LogSource:       true,
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if cfg.Scanner.ThresholdRSSI != -60 {
		t.Errorf("Scanner.ThresholdRSSI = %d, want -60", cfg.Scanner.ThresholdRSSI)
	}
	if cfg.Scanner.MinimumInterval != interval {
		t.Errorf("Scanner.MinimumInterval = %v, want %v", cfg.Scanner.MinimumInterval, interval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Logging.AddSource {
		t.Error("Logging.AddSource = false, want true")
	}
}

func TestConfig_ApplyEmptyKeepsValues(t *testing.T) {
	cfg := Default()
	if err := cfg.Apply(Overrides{}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if cfg.Scanner.ThresholdRSSI != -80 || cfg.Logging.Level != "warn" {
		t.Errorf("Apply(empty) changed config: threshold=%d level=%q",
			cfg.Scanner.ThresholdRSSI, cfg.Logging.Level)
	}
}

func TestConfig_ApplyRejectsNegativeInterval(t *testing.T) {
	cfg := Default()
	interval := -time.Second

	err := cfg.Apply(Overrides{MinimumInterval: &interval})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Apply() error = %v, want ErrInvalidArgument", err)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("BTLESNIFFER_NODE_ID", "node-042")
	t.Setenv("BTLESNIFFER_LOCATION_X", "4.25")
	t.Setenv("BTLESNIFFER_LOCATION_Y", "-1")
	t.Setenv("BTLESNIFFER_BLUEZ_ADAPTER", "hci1")
	t.Setenv("BTLESNIFFER_DATABASE_PATH", "/custom/path.db")
	t.Setenv("BTLESNIFFER_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BTLESNIFFER_MQTT_USERNAME", "testuser")
	t.Setenv("BTLESNIFFER_MQTT_PASSWORD", "testpass")
	t.Setenv("BTLESNIFFER_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("BTLESNIFFER_JWT_SECRET", "jwt-secret")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Node.ID != "node-042" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "node-042")
	}
	if cfg.Node.Location.X != 4.25 || cfg.Node.Location.Y != -1 {
		t.Errorf("Node.Location = %+v, want {4.25 -1}", cfg.Node.Location)
	}
	if cfg.BlueZ.Adapter != "hci1" {
		t.Errorf("BlueZ.Adapter = %q, want %q", cfg.BlueZ.Adapter, "hci1")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Node.ID == "" {
		t.Error("Default should have non-empty Node.ID")
	}
	if cfg.Scanner.ThresholdRSSI != -80 {
		t.Errorf("Default Scanner.ThresholdRSSI = %d, want -80", cfg.Scanner.ThresholdRSSI)
	}
	if cfg.Scanner.MinimumInterval != 5*time.Second {
		t.Errorf("Default Scanner.MinimumInterval = %v, want 5s", cfg.Scanner.MinimumInterval)
	}
	if cfg.Scanner.EvictAfter != 0 {
		t.Errorf("Default Scanner.EvictAfter = %v, want 0 (disabled)", cfg.Scanner.EvictAfter)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}
