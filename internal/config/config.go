// Package config provides configuration management for SagaFlow.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Saga     SagaConfig     `mapstructure:"saga"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// DatabaseConfig contains PostgreSQL connection settings for the event
// store. When neither URL nor Host is set the in-memory store is used.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Enabled reports whether a Postgres event store is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// KafkaConfig contains message broker settings.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MinBytes     int           `mapstructure:"min_bytes"`
	MaxBytes     int           `mapstructure:"max_bytes"`
}

// RedisConfig contains pub/sub channel settings for the stream facade.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether Redis pub/sub is configured. When disabled the
// in-process broadcaster is used instead.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// SagaConfig contains orchestration settings.
type SagaConfig struct {
	// ResponseTopic is the single shared topic all step services answer on.
	ResponseTopic string `mapstructure:"response_topic"`

	// ConsumerGroup is the Kafka group id of the response listener. Exactly
	// one member of the group consumes a given partition at a time, which
	// is what keeps handleResponse serial per saga id.
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// StreamConfig contains live event stream settings.
type StreamConfig struct {
	// IdleTimeout closes a subscriber connection that has seen no events.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	StreamPoolSize  int `mapstructure:"stream_pool_size"`
}

// SweepConfig contains the stalled-saga advisory sweep settings.
// The sweep only logs; it never fails or advances a saga.
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from file and environment variables.
// Standard environment variables without prefix (DATABASE_URL,
// SERVER_PORT, LOG_LEVEL, KAFKA_BROKERS, REDIS_ADDR, ...).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/sagaflow")

	// Maps nested config: saga.response_topic → SAGA_RESPONSE_TOPIC
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Saga.ResponseTopic == "" {
		return fmt.Errorf("saga.response_topic must not be empty")
	}
	if c.Saga.ConsumerGroup == "" {
		return fmt.Errorf("saga.consumer_group must not be empty")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Stream.IdleTimeout <= 0 {
		return fmt.Errorf("stream.idle_timeout must be positive")
	}
	if c.Sweep.Enabled && !c.Database.Enabled() {
		return fmt.Errorf("sweep requires a postgres event store")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0) // SSE connections outlive any write deadline
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Database pool
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Kafka
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.write_timeout", 10*time.Second)
	v.SetDefault("kafka.min_bytes", 1)
	v.SetDefault("kafka.max_bytes", 10e6)

	// Saga
	v.SetDefault("saga.response_topic", "saga-response")
	v.SetDefault("saga.consumer_group", "saga-orchestrator-group")

	// Stream
	v.SetDefault("stream.idle_timeout", 5*time.Minute)

	// Worker
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.stream_pool_size", 50)

	// Sweep
	v.SetDefault("sweep.enabled", false)
	v.SetDefault("sweep.interval", time.Minute)
}
