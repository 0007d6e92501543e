package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration structure for farmbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Farm      FarmConfig      `yaml:"farm"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// FarmConfig describes the device fleet behind the broker.
type FarmConfig struct {
	// DefaultDeviceID is recorded against combined sensor messages that
	// carry no device_id of their own.
	DefaultDeviceID string `yaml:"default_device_id"`
}

// DatabaseConfig selects and configures the persistence store.
type DatabaseConfig struct {
	Driver      string         `yaml:"driver"`
	Path        string         `yaml:"path"`
	WALMode     bool           `yaml:"wal_mode"`
	BusyTimeout int            `yaml:"busy_timeout"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL pool settings, used when driver is "postgres".
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// Broker URL and credentials are deliberately not checked by Validate:
// the service starts without them and the connection manager reports the
// missing values when a connection is requested.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig `yaml:"broker"`
	Auth           MQTTAuthConfig   `yaml:"auth"`
	QoS            int              `yaml:"qos"`
	ConnectTimeout int              `yaml:"connect_timeout"`
	KeepAlive      int              `yaml:"keep_alive"`
	Will           MQTTWillConfig   `yaml:"will"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	// URL is the broker address, e.g. "mqtts://broker.example:8883".
	// Supported schemes: tcp, mqtt, ssl, tls, mqtts, ws, wss.
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTWillConfig contains the last-will identity published by the broker
// when this service drops off unexpectedly.
type MQTTWillConfig struct {
	DeviceID string `yaml:"device_id"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains live feed settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains settings for the optional time-series mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// CacheConfig contains settings for the optional Redis latest-value cache.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      int    `yaml:"ttl"` // seconds
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FARMBRIDGE_SECTION_KEY
// For example: FARMBRIDGE_MQTT_BROKER_URL, FARMBRIDGE_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Farm: FarmConfig{
			DefaultDeviceID: "arduino-uno-r4",
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			Path:        "./data/farmbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				ClientID: "smartfarm-web-client",
			},
			QoS:            1,
			ConnectTimeout: 30,
			KeepAlive:      60,
			Will: MQTTWillConfig{
				DeviceID: "smartfarm-web",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  86400,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FARMBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Farm
	if v := os.Getenv("FARMBRIDGE_FARM_DEFAULT_DEVICE_ID"); v != "" {
		cfg.Farm.DefaultDeviceID = v
	}

	// Database
	if v := os.Getenv("FARMBRIDGE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FARMBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FARMBRIDGE_DATABASE_POSTGRES_DSN"); v != "" {
		cfg.Database.Postgres.DSN = v
	}

	// MQTT
	if v := os.Getenv("FARMBRIDGE_MQTT_BROKER_URL"); v != "" {
		cfg.MQTT.Broker.URL = v
	}
	if v := os.Getenv("FARMBRIDGE_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("FARMBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FARMBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FARMBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FARMBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("FARMBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Cache
	if v := os.Getenv("FARMBRIDGE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("FARMBRIDGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}

	// Logging
	if v := os.Getenv("FARMBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, "database.postgres.dsn is required for the postgres driver (set FARMBRIDGE_DATABASE_POSTGRES_DSN)")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be %q or %q", DriverSQLite, DriverPostgres))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ConnectTimeout < 1 {
		errs = append(errs, "mqtt.connect_timeout must be at least 1 second")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}

	if c.Farm.DefaultDeviceID == "" {
		errs = append(errs, "farm.default_device_id is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, "cache.addr is required when cache is enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetConnectTimeout returns the MQTT connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

// GetKeepAlive returns the MQTT keep-alive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.MQTT.KeepAlive) * time.Second
}
