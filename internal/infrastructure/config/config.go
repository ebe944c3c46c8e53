package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidArgument is wrapped by every validation failure so callers can map
// configuration problems to a distinct exit code.
var ErrInvalidArgument = errors.New("config: invalid argument")

// RSSI bounds accepted for the connection threshold (dBm).
const (
	minRSSI = -127
	maxRSSI = 20

	// minJWTSecretLength is the shortest accepted HS256 secret.
	minJWTSecretLength = 32
)

// Config is the root configuration structure for a btlesniffer node.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	BlueZ     BlueZConfig     `yaml:"bluez"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig identifies this node within the monitoring network.
type NodeConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig is the antenna position on the site plan, in metres.
type LocationConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// ScannerConfig controls the scan loop and the connection attempter.
type ScannerConfig struct {
	// ThresholdRSSI is the weakest signal (dBm) that still triggers a
	// connection attempt. Weaker advertisements are observed passively.
	ThresholdRSSI int `yaml:"threshold_rssi"`

	// MinimumInterval is the minimum time between two connection attempts to
	// the same device.
	MinimumInterval time.Duration `yaml:"minimum_interval"`

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// MaxConcurrentAttempts caps simultaneous connections on the adapter.
	MaxConcurrentAttempts int `yaml:"max_concurrent_attempts"`

	// AttemptsPerSecond limits new attempts across all devices. 0 disables it.
	AttemptsPerSecond float64 `yaml:"attempts_per_second"`

	// AttemptBurst is the token bucket size for AttemptsPerSecond.
	AttemptBurst int `yaml:"attempt_burst"`

	// EvictAfter removes devices idle for longer than this. 0 keeps every
	// device for the lifetime of the process.
	EvictAfter time.Duration `yaml:"evict_after"`

	// HealthInterval is how often node health is published.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// BlueZConfig configures the BlueZ D-Bus radio backend.
type BlueZConfig struct {
	// Adapter is the HCI adapter name (e.g. "hci0"). Empty picks the first one.
	Adapter string `yaml:"adapter"`

	// ClearDeviceCache removes devices BlueZ already knows about at startup so
	// that every nearby device is announced again.
	ClearDeviceCache bool `yaml:"clear_device_cache"`

	// ReadDeviceInfo reads the Device Information service after connecting.
	ReadDeviceInfo bool `yaml:"read_device_info"`
}

// DatabaseConfig contains local SQLite sighting store settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientID defaults to "btlesniffer-{node_id}" when empty.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the status HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains live sighting stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the HS256 secret used to verify API bearer tokens.
// An empty secret leaves the API open.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// Overrides carries command-line values that take precedence over the file
// and the environment. Nil fields are left untouched.
type Overrides struct {
	ThresholdRSSI   *int
	MinimumInterval *time.Duration
	LogLevel        string
	LogSource       bool
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// An empty path skips the file and starts from defaults. Environment variables
// follow the pattern BTLESNIFFER_SECTION_KEY, e.g. BTLESNIFFER_NODE_ID.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "node-001",
			Name: "btlesniffer",
		},
		Scanner: ScannerConfig{
			ThresholdRSSI:         -80,
			MinimumInterval:       5 * time.Second,
			ConnectTimeout:        10 * time.Second,
			MaxConcurrentAttempts: 2,
			AttemptsPerSecond:     1,
			AttemptBurst:          2,
			HealthInterval:        30 * time.Second,
		},
		BlueZ: BlueZConfig{
			ClearDeviceCache: true,
			ReadDeviceInfo:   true,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/btlesniffer.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies BTLESNIFFER_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BTLESNIFFER_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("BTLESNIFFER_LOCATION_X"); v != "" {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: BTLESNIFFER_LOCATION_X: %w", ErrInvalidArgument, err)
		}
		cfg.Node.Location.X = x
	}
	if v := os.Getenv("BTLESNIFFER_LOCATION_Y"); v != "" {
		y, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: BTLESNIFFER_LOCATION_Y: %w", ErrInvalidArgument, err)
		}
		cfg.Node.Location.Y = y
	}

	if v := os.Getenv("BTLESNIFFER_BLUEZ_ADAPTER"); v != "" {
		cfg.BlueZ.Adapter = v
	}

	if v := os.Getenv("BTLESNIFFER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BTLESNIFFER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BTLESNIFFER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BTLESNIFFER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BTLESNIFFER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("BTLESNIFFER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	return nil
}

// Apply layers command-line overrides on top of the loaded configuration and
// validates the result.
func (c *Config) Apply(o Overrides) error {
	if o.ThresholdRSSI != nil {
		c.Scanner.ThresholdRSSI = *o.ThresholdRSSI
	}
	if o.MinimumInterval != nil {
		c.Scanner.MinimumInterval = *o.MinimumInterval
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.LogSource {
		c.Logging.AddSource = true
	}
	return c.Validate()
}

// Validate checks the configuration for errors.
//
// Returns an error wrapping ErrInvalidArgument that lists every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}

	s := c.Scanner
	if s.ThresholdRSSI < minRSSI || s.ThresholdRSSI > maxRSSI {
		errs = append(errs, fmt.Sprintf("scanner.threshold_rssi must be between %d and %d dBm", minRSSI, maxRSSI))
	}
	if s.MinimumInterval < 0 {
		errs = append(errs, "scanner.minimum_interval must not be negative")
	}
	if s.ConnectTimeout <= 0 {
		errs = append(errs, "scanner.connect_timeout must be positive")
	}
	if s.MaxConcurrentAttempts < 1 {
		errs = append(errs, "scanner.max_concurrent_attempts must be at least 1")
	}
	if s.AttemptsPerSecond < 0 {
		errs = append(errs, "scanner.attempts_per_second must not be negative")
	}
	if s.AttemptsPerSecond > 0 && s.AttemptBurst < 1 {
		errs = append(errs, "scanner.attempt_burst must be at least 1 when attempts_per_second is set")
	}
	if s.EvictAfter < 0 {
		errs = append(errs, "scanner.evict_after must not be negative")
	}
	if s.HealthInterval <= 0 {
		errs = append(errs, "scanner.health_interval must be positive")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when MQTT is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when InfluxDB is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(errs, "; "))
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
