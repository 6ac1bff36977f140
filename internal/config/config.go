package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/realm-tycoon/economy-server/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. ECONOMY_SERVER_PORT.
const EnvPrefix = "ECONOMY"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Auth       AuthConfig       `yaml:"auth" envconfig:"AUTH"`
	Store      StoreConfig      `yaml:"store" envconfig:"STORE"`
	Redis      RedisConfig      `yaml:"redis" envconfig:"REDIS"`
	Postgres   PostgresConfig   `yaml:"postgres" envconfig:"POSTGRES"`
	Kafka      KafkaConfig      `yaml:"kafka" envconfig:"KAFKA"`
	Settlement SettlementConfig `yaml:"settlement" envconfig:"SETTLEMENT"`
	Scanner    ScannerConfig    `yaml:"scanner" envconfig:"SCANNER"`
	WebSocket  WebSocketConfig  `yaml:"websocket" envconfig:"WEBSOCKET"`
	Log        LogConfig        `yaml:"log" envconfig:"LOG"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
}

// AuthConfig holds the bearer token signing secret
type AuthConfig struct {
	Secret   string        `yaml:"secret" envconfig:"SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" envconfig:"ADDR"`
	Password     string        `yaml:"password" envconfig:"PASSWORD"`
	DB           int           `yaml:"db" envconfig:"DB"`
	KeyPrefix    string        `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
	PoolSize     int           `yaml:"pool_size" envconfig:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" envconfig:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	User            string        `yaml:"user" envconfig:"USER"`
	Password        string        `yaml:"password" envconfig:"PASSWORD"`
	Database        string        `yaml:"database" envconfig:"DATABASE"`
	SSLMode         string        `yaml:"ssl_mode" envconfig:"SSL_MODE"`
	MaxConnections  int           `yaml:"max_connections" envconfig:"MAX_CONNECTIONS"`
	MinConnections  int           `yaml:"min_connections" envconfig:"MIN_CONNECTIONS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" envconfig:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" envconfig:"MAX_CONN_IDLE_TIME"`
	// Reports stores reports in a dedicated table even when another driver
	// holds the documents.
	Reports bool `yaml:"reports" envconfig:"REPORTS"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers" envconfig:"BROKERS"`
	ScoreTopic    string        `yaml:"score_topic" envconfig:"SCORE_TOPIC"`
	EventTopic    string        `yaml:"event_topic" envconfig:"EVENT_TOPIC"`
	GroupID       string        `yaml:"group_id" envconfig:"GROUP_ID"`
	Enabled       bool          `yaml:"enabled" envconfig:"ENABLED"`
	BatchSize     int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	BatchTimeout  time.Duration `yaml:"batch_timeout" envconfig:"BATCH_TIMEOUT"`
	RetryAttempts int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
	// StartupTimeout bounds how long Start waits for the first session
	StartupTimeout time.Duration `yaml:"startup_timeout" envconfig:"STARTUP_TIMEOUT"`
}

// SettlementConfig bounds the transaction retry loop
type SettlementConfig struct {
	MaxRetries uint64        `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
}

// RetryPolicy converts the section into a store retry policy
func (c SettlementConfig) RetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BaseDelay,
		MaxDelay:   c.MaxDelay,
	}
}

// ScannerConfig holds anti-cheat scanner configuration
type ScannerConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Schedule string        `yaml:"schedule" envconfig:"SCHEDULE"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// WebSocketConfig holds live notification configuration
type WebSocketConfig struct {
	Enabled         bool `yaml:"enabled" envconfig:"ENABLED"`
	ReadBufferSize  int  `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int  `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Load reads configuration from a YAML file, then applies ECONOMY_*
// environment overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables
		data = []byte(os.ExpandEnv(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory, DriverRedis, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be one of memory, redis, postgres", c.Store.Driver))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.Settlement.BaseDelay > c.Settlement.MaxDelay {
		errs = append(errs, errors.New("settlement.base_delay exceeds settlement.max_delay"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "economy:"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.ScoreTopic == "" {
		c.Kafka.ScoreTopic = "economy-scores"
	}
	if c.Kafka.EventTopic == "" {
		c.Kafka.EventTopic = "economy-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "economy-score-consumer"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}
	if c.Kafka.StartupTimeout == 0 {
		c.Kafka.StartupTimeout = 30 * time.Second
	}

	// Settlement defaults
	defaults := store.DefaultRetryPolicy()
	if c.Settlement.MaxRetries == 0 {
		c.Settlement.MaxRetries = defaults.MaxRetries
	}
	if c.Settlement.BaseDelay == 0 {
		c.Settlement.BaseDelay = defaults.BaseDelay
	}
	if c.Settlement.MaxDelay == 0 {
		c.Settlement.MaxDelay = defaults.MaxDelay
	}

	// Scanner defaults
	if c.Scanner.Schedule == "" {
		c.Scanner.Schedule = "@hourly"
	}
	if c.Scanner.Timeout == 0 {
		c.Scanner.Timeout = 10 * time.Minute
	}

	if c.WebSocket.ReadBufferSize == 0 {
		c.WebSocket.ReadBufferSize = 1024
	}
	if c.WebSocket.WriteBufferSize == 0 {
		c.WebSocket.WriteBufferSize = 1024
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Scanner.Enabled = true
	cfg.WebSocket.Enabled = true
	return cfg
}
