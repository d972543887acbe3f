package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for litecore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Pool         PoolConfig         `yaml:"pool"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Changes      ChangesConfig      `yaml:"changes"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	HTTP         HTTPConfig         `yaml:"http"`
	Migrations   MigrationsConfig   `yaml:"migrations"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	ForeignKeys bool          `yaml:"foreign_keys"`
	Synchronous string        `yaml:"synchronous"`
	CacheSizeKB int           `yaml:"cache_size_kb"`
}

// PoolConfig contains connection pool settings.
type PoolConfig struct {
	Readers            int           `yaml:"readers"`
	AcquireTimeout     time.Duration `yaml:"acquire_timeout"`
	StatementCacheSize int           `yaml:"statement_cache_size"`
}

// ExecutorConfig contains writer executor settings.
type ExecutorConfig struct {
	Retry RetryConfig `yaml:"retry"`

	// DefaultTimeout bounds calls made without a deadline. Zero disables it.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// RetryConfig is the busy retry policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// TransactionsConfig contains transaction manager settings.
type TransactionsConfig struct {
	ConflictRetries int `yaml:"conflict_retries"`
}

// ChangesConfig contains change-capture settings.
type ChangesConfig struct {
	Enabled       bool     `yaml:"enabled"`
	QueueCapacity int      `yaml:"queue_capacity"`
	Overflow      string   `yaml:"overflow"`
	ExcludeTables []string `yaml:"exclude_tables"`
}

// MQTTConfig contains MQTT broker connection settings. When enabled,
// committed change events are forwarded to the broker.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Codec       string              `yaml:"codec"`
	Tables      []string            `yaml:"tables"`
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

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for executor
// telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// ReportInterval is how often pool gauges are written, in seconds.
	ReportInterval int `yaml:"report_interval"`
}

// HTTPConfig contains the operations listener settings: health, stats,
// Prometheus exposition and the change-event WebSocket stream.
type HTTPConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Listen      string          `yaml:"listen"`
	MetricsPath string          `yaml:"metrics_path"`
	Timeouts    HTTPTimeouts    `yaml:"timeouts"`
	WebSocket   WebSocketConfig `yaml:"websocket"`
}

// HTTPTimeouts are in seconds. Write applies to plain responses only;
// WebSocket connections manage their own deadlines.
type HTTPTimeouts struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains change-stream connection settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// MigrationsConfig points at a directory of migration files. Empty uses
// the migrations embedded in the binary.
type MigrationsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
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
// Environment variables follow the pattern: LITECORE_SECTION_KEY
// For example: LITECORE_DATABASE_PATH, LITECORE_POOL_READERS
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment overrides,
// for running without a config file.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/litecore.db",
			WALMode:     true,
			BusyTimeout: 100 * time.Millisecond,
			ForeignKeys: true,
			Synchronous: "NORMAL",
			CacheSizeKB: 8192,
		},
		Pool: PoolConfig{
			Readers:            4,
			AcquireTimeout:     5 * time.Second,
			StatementCacheSize: 64,
		},
		Executor: ExecutorConfig{
			Retry: RetryConfig{
				MaxAttempts:    6,
				InitialBackoff: 5 * time.Millisecond,
				MaxBackoff:     250 * time.Millisecond,
				Multiplier:     2,
			},
			DefaultTimeout: 30 * time.Second,
		},
		Transactions: TransactionsConfig{
			ConflictRetries: 5,
		},
		Changes: ChangesConfig{
			Enabled:       true,
			QueueCapacity: 1024,
			Overflow:      "block",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "litecore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "litecore/changes",
			Codec:       "json",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 30,
		},
		HTTP: HTTPConfig{
			Listen:      "127.0.0.1:9464",
			MetricsPath: "/metrics",
			Timeouts: HTTPTimeouts{
				Read:  10,
				Write: 30,
				Idle:  120,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Migrations: MigrationsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LITECORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("LITECORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Pool
	if v := os.Getenv("LITECORE_POOL_READERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LITECORE_POOL_READERS: %w", err)
		}
		cfg.Pool.Readers = n
	}

	// MQTT
	if v := os.Getenv("LITECORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LITECORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LITECORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("LITECORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("LITECORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}
	switch strings.ToUpper(c.Database.Synchronous) {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		errs = append(errs, "database.synchronous must be OFF, NORMAL, FULL or EXTRA")
	}

	// Pool validation
	if c.Pool.Readers < 1 || c.Pool.Readers > 64 {
		errs = append(errs, "pool.readers must be between 1 and 64")
	}

	// Executor validation
	if c.Executor.Retry.MaxAttempts < 1 {
		errs = append(errs, "executor.retry.max_attempts must be at least 1")
	}
	if c.Executor.Retry.Multiplier != 0 && c.Executor.Retry.Multiplier < 1 {
		errs = append(errs, "executor.retry.multiplier must be at least 1")
	}
	if c.Transactions.ConflictRetries < 0 {
		errs = append(errs, "transactions.conflict_retries must not be negative")
	}

	// Changes validation
	if c.Changes.QueueCapacity < 1 {
		errs = append(errs, "changes.queue_capacity must be at least 1")
	}
	switch c.Changes.Overflow {
	case "block", "drop_oldest", "drop-oldest":
	default:
		errs = append(errs, "changes.overflow must be block or drop_oldest")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if !c.Changes.Enabled {
			errs = append(errs, "mqtt.enabled requires changes.enabled")
		}
		switch strings.ToLower(c.MQTT.Codec) {
		case "", "json", "cbor":
		default:
			errs = append(errs, "mqtt.codec must be json or cbor")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Listen == "" {
			errs = append(errs, "http.listen is required when http is enabled")
		}
		if !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
			errs = append(errs, "http.metrics_path must start with /")
		}
		if c.HTTP.WebSocket.PingInterval < 1 || c.HTTP.WebSocket.PongTimeout < 1 {
			errs = append(errs, "http.websocket ping_interval and pong_timeout must be at least 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReportInterval returns the InfluxDB pool report interval as a Duration.
func (c *Config) GetReportInterval() time.Duration {
	return time.Duration(c.InfluxDB.ReportInterval) * time.Second
}
