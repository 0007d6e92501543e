package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
farm:
  default_device_id: "greenhouse-1"
database:
  driver: "sqlite"
  path: "/tmp/test.db"
mqtt:
  broker:
    url: "mqtts://broker.example:8883"
    client_id: "test-client"
  qos: 1
  connect_timeout: 15
api:
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Farm.DefaultDeviceID != "greenhouse-1" {
		t.Errorf("Farm.DefaultDeviceID = %q, want %q", cfg.Farm.DefaultDeviceID, "greenhouse-1")
	}
	if cfg.MQTT.Broker.URL != "mqtts://broker.example:8883" {
		t.Errorf("MQTT.Broker.URL = %q", cfg.MQTT.Broker.URL)
	}
	if cfg.GetConnectTimeout() != 15*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 15s", cfg.GetConnectTimeout())
	}
	// Unset keys keep their defaults.
	if cfg.MQTT.KeepAlive != 60 {
		t.Errorf("MQTT.KeepAlive = %d, want 60", cfg.MQTT.KeepAlive)
	}
	if cfg.MQTT.Will.DeviceID != "smartfarm-web" {
		t.Errorf("MQTT.Will.DeviceID = %q, want %q", cfg.MQTT.Will.DeviceID, "smartfarm-web")
	}
}

func TestLoad_BrokerSettingsOptional(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() without broker settings error = %v", err)
	}
	if cfg.MQTT.Broker.URL != "" {
		t.Errorf("MQTT.Broker.URL = %q, want empty", cfg.MQTT.Broker.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: "mysql"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for unknown driver, got nil")
	}
	if !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("error = %v, want mention of database.driver", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Driver = DriverPostgres },
			wantErr: "database.postgres.dsn",
		},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Database.Driver = DriverPostgres
				c.Database.Postgres.DSN = "postgres://farm@localhost/farm"
			},
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.MQTT.ConnectTimeout = 0 },
			wantErr: "mqtt.connect_timeout",
		},
		{
			name:    "empty client id",
			mutate:  func(c *Config) { c.MQTT.Broker.ClientID = "" },
			wantErr: "mqtt.broker.client_id",
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "farm" },
			wantErr: "influxdb.url",
		},
		{
			name:    "cache enabled without addr",
			mutate:  func(c *Config) { c.Cache.Enabled = true; c.Cache.Addr = "" },
			wantErr: "cache.addr",
		},
		{
			name:    "metrics path without slash",
			mutate:  func(c *Config) { c.Metrics.Path = "metrics" },
			wantErr: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.MQTT.QoS = 5
	cfg.API.Port = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"mqtt.qos", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
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
		MQTT: MQTTConfig{ConnectTimeout: 30, KeepAlive: 20},
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
	if got := cfg.GetConnectTimeout().Seconds(); got != 30 {
		t.Errorf("GetConnectTimeout() = %v, want 30", got)
	}
	if got := cfg.GetKeepAlive().Seconds(); got != 20 {
		t.Errorf("GetKeepAlive() = %v, want 20", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("FARMBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("FARMBRIDGE_MQTT_BROKER_URL", "mqtts://mqtt.example.com:8883")
	t.Setenv("FARMBRIDGE_MQTT_CLIENT_ID", "farm-ops")
	t.Setenv("FARMBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("FARMBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("FARMBRIDGE_API_HOST", "192.168.1.1")
	t.Setenv("FARMBRIDGE_API_PORT", "9000")
	t.Setenv("FARMBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("FARMBRIDGE_FARM_DEFAULT_DEVICE_ID", "esp32-a")

	applyEnvOverrides(cfg)

	checks := []struct {
		field, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.URL", cfg.MQTT.Broker.URL, "mqtts://mqtt.example.com:8883"},
		{"MQTT.Broker.ClientID", cfg.MQTT.Broker.ClientID, "farm-ops"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Farm.DefaultDeviceID", cfg.Farm.DefaultDeviceID, "esp32-a"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("FARMBRIDGE_API_PORT", "not-a-number")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("defaultConfig Database.Driver = %q, want %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.MQTT.Broker.ClientID != "smartfarm-web-client" {
		t.Errorf("defaultConfig MQTT.Broker.ClientID = %q", cfg.MQTT.Broker.ClientID)
	}
	if cfg.MQTT.ConnectTimeout != 30 {
		t.Errorf("defaultConfig MQTT.ConnectTimeout = %d, want 30", cfg.MQTT.ConnectTimeout)
	}
	if cfg.Farm.DefaultDeviceID != "arduino-uno-r4" {
		t.Errorf("defaultConfig Farm.DefaultDeviceID = %q", cfg.Farm.DefaultDeviceID)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
