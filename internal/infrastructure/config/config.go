package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for dsp-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Venue     VenueConfig     `yaml:"venue"`
	Database  DatabaseConfig  `yaml:"database"`
	DSP       DSPConfig       `yaml:"dsp"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// VenueConfig identifies the installation site.
type VenueConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// DSPConfig contains processor connection and telemetry tuning.
// These defaults apply to every managed processor; per-processor network
// addresses and ports live in the database, not here.
type DSPConfig struct {
	// ConnectTimeout is the maximum time to wait for a TCP connect (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// KeepAliveInterval is the period between keep-alive probes (seconds).
	KeepAliveInterval int `yaml:"keepalive_interval"`

	// KeepAliveFailures is the number of consecutive probe failures that
	// forces a disconnect and reconnect cycle.
	KeepAliveFailures int `yaml:"keepalive_failures"`

	// ReconnectBase is the initial reconnect backoff delay (seconds).
	ReconnectBase int `yaml:"reconnect_base"`

	// ReconnectMax caps the reconnect backoff delay (seconds).
	ReconnectMax int `yaml:"reconnect_max"`

	// ReconnectJitter is the random fraction (0..1) applied to each backoff
	// delay. Zero disables jitter.
	ReconnectJitter float64 `yaml:"reconnect_jitter"`

	// StableReset is how long a connection must stay up before the
	// reconnect attempt counter resets (seconds).
	StableReset int `yaml:"stable_reset"`

	// CommandTimeout is the default timeout for get/set commands (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// ClipOnCount is the number of consecutive over-ceiling meter samples
	// required before a meter's clipping flag is raised.
	ClipOnCount int `yaml:"clip_on_count"`

	// ClipOffCount is the number of consecutive under-ceiling samples
	// required before the clipping flag clears.
	ClipOffCount int `yaml:"clip_off_count"`

	// ArchiveInterval is the meter archive downsample period (seconds).
	// Meters stream faster than this; at most one sample per meter per
	// interval is forwarded to the archive.
	ArchiveInterval int `yaml:"archive_interval"`

	// MeterListen is the UDP address every processor pushes meter
	// datagrams to. One socket serves all processors.
	MeterListen string `yaml:"meter_listen"`

	// RecallStagger is the pause between successive parameter writes
	// during a scene recall (milliseconds). Spreads the write burst so
	// the device's control channel is not flooded.
	RecallStagger int `yaml:"recall_stagger_ms"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket hub settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// MeterInterval throttles meter broadcasts to UI clients (milliseconds).
	MeterInterval int `yaml:"meter_interval"`
}

// InfluxDBConfig contains the meter archive connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MQTTConfig contains the optional venue event bus settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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
// Environment variables follow the pattern: DSPCORE_SECTION_KEY
// For example: DSPCORE_DATABASE_PATH, DSPCORE_API_PORT
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
		Venue: VenueConfig{
			ID:       "venue-001",
			Name:     "Graystone",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/dspcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		DSP: DSPConfig{
			ConnectTimeout:    10,
			KeepAliveInterval: 10,
			KeepAliveFailures: 3,
			ReconnectBase:     1,
			ReconnectMax:      30,
			ReconnectJitter:   0.1,
			StableReset:       60,
			CommandTimeout:    5,
			ClipOnCount:       3,
			ClipOffCount:      5,
			ArchiveInterval:   1,
			MeterListen:       ":3131",
			RecallStagger:     25,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			MeterInterval:  250,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dspcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DSPCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DSPCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DSPCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DSPCORE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("DSPCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("DSPCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DSPCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DSPCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("DSPCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Venue.ID == "" {
		errs = append(errs, "venue.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.DSP.KeepAliveInterval < 1 {
		errs = append(errs, "dsp.keepalive_interval must be at least 1 second")
	}
	if c.DSP.KeepAliveFailures < 1 {
		errs = append(errs, "dsp.keepalive_failures must be at least 1")
	}
	if c.DSP.ReconnectBase < 1 {
		errs = append(errs, "dsp.reconnect_base must be at least 1 second")
	}
	if c.DSP.ReconnectMax < c.DSP.ReconnectBase {
		errs = append(errs, "dsp.reconnect_max must be >= dsp.reconnect_base")
	}
	if c.DSP.ReconnectJitter < 0 || c.DSP.ReconnectJitter > 1 {
		errs = append(errs, "dsp.reconnect_jitter must be between 0 and 1")
	}
	if c.DSP.ClipOnCount < 1 || c.DSP.ClipOffCount < 1 {
		errs = append(errs, "dsp.clip_on_count and dsp.clip_off_count must be at least 1")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the DSP connect timeout as a Duration.
func (c DSPConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetKeepAliveInterval returns the keep-alive probe period as a Duration.
func (c DSPConfig) GetKeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveInterval) * time.Second
}

// GetCommandTimeout returns the default command timeout as a Duration.
func (c DSPConfig) GetCommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// GetArchiveInterval returns the meter archive period as a Duration.
func (c DSPConfig) GetArchiveInterval() time.Duration {
	return time.Duration(c.ArchiveInterval) * time.Second
}

// GetRecallStagger returns the scene recall write spacing as a Duration.
func (c DSPConfig) GetRecallStagger() time.Duration {
	return time.Duration(c.RecallStagger) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (t APITimeoutConfig) GetReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (t APITimeoutConfig) GetWriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (t APITimeoutConfig) GetIdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
