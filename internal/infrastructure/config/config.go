package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the switch dimmer bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Input     InputConfig     `yaml:"input"`
	Reload    ReloadConfig    `yaml:"reload"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the operations HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig contains API authentication settings.
type APIAuthConfig struct {
	// JWTSecret signs operator tokens. Empty leaves the API open.
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig controls the Home Assistant device-automation documents.
type DiscoveryConfig struct {
	// Prefix is the Home Assistant discovery prefix. Default: "homeassistant"
	Prefix       string `yaml:"prefix"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`

	// Concurrency bounds in-flight discovery publishes during a reconcile.
	Concurrency int `yaml:"concurrency"`
}

// InputConfig describes where switch state changes are read from.
type InputConfig struct {
	// StatestreamBase is the base topic of Home Assistant's mqtt_statestream.
	// Entity "switch.hall_up" is read from "<base>/switch/hall_up/state".
	StatestreamBase string `yaml:"statestream_base"`
}

// ReloadConfig controls automatic reloads when the config file changes.
type ReloadConfig struct {
	WatchFile bool `yaml:"watch_file"`

	// DebounceMS coalesces bursts of file events (editors write several times).
	DebounceMS int `yaml:"debounce_ms"`
}

// minJWTSecretLength matches auth.MinSecretLength.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SWITCHDIMMER_SECTION_KEY
// For example: SWITCHDIMMER_DATABASE_PATH, SWITCHDIMMER_MQTT_HOST
//
// Device records are not validated here; see ValidateDevices.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
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
		Database: DatabaseConfig{
			Path:        "./data/switchdimmer.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "switch-dimmer",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8095,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			Prefix:       "homeassistant",
			Manufacturer: "Dimmer from Switches HACS Plugin",
			Model:        "Dimmer from Switches",
			Concurrency:  8,
		},
		Input: InputConfig{
			StatestreamBase: "homeassistant",
		},
		Reload: ReloadConfig{
			WatchFile:  true,
			DebounceMS: 250,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SWITCHDIMMER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWITCHDIMMER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SWITCHDIMMER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SWITCHDIMMER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SWITCHDIMMER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SWITCHDIMMER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SWITCHDIMMER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("SWITCHDIMMER_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	if v := os.Getenv("SWITCHDIMMER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SWITCHDIMMER_DISCOVERY_PREFIX"); v != "" {
		cfg.Discovery.Prefix = v
	}
}

// Validate checks the service-level configuration for errors.
// Device records are checked separately so one bad record never
// prevents the service from starting.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.API.Auth.JWTSecret != "" && len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength))
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Discovery.Prefix == "" {
		errs = append(errs, "discovery.prefix is required")
	}
	if c.Input.StatestreamBase == "" {
		errs = append(errs, "input.statestream_base is required")
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

// GetReloadDebounce returns the config watcher debounce as a Duration.
func (c *Config) GetReloadDebounce() time.Duration {
	return time.Duration(c.Reload.DebounceMS) * time.Millisecond
}
