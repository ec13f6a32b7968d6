package relmap

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the root configuration of a Persister. Zero-valued
// fields fall back to the defaults of DefaultConfig.
type Config struct {
	// Dialect selects the SQL text dialect: "sqlite", "postgres" or "mysql".
	// If empty it follows Database.Type, or SQLite without a database.
	Dialect string `yaml:"dialect,omitempty" json:"dialect,omitempty"`

	// Database contains configuration for the SQL database.
	Database DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`

	// Sequence selects where auto-id counters are allocated.
	Sequence SequenceConfig `yaml:"sequence,omitempty" json:"sequence,omitempty"`

	// Tables contains table-specific configuration overrides.
	// If a table is not specified here, default settings will be used.
	Tables map[string]TableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`

	// WriteBack contains asynchronous insert configuration.
	WriteBack WriteBackConfig `yaml:"writeback,omitempty" json:"writeback,omitempty"`

	// Logging configures the zap logger.
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// DatabaseConfig contains configuration for the SQL database.
type DatabaseConfig struct {
	// Type specifies the database type: "mysql" or "postgres". Empty means
	// no database; only SQL text can be rendered.
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// DSN is a driver-specific data source name. When set, the connection
	// fields below are ignored.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// Host is the database host address.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the database port number.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// Database is the database name.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	// Username is the database username.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`

	// Password is the database password.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// SSLMode is the SSL mode for PostgreSQL (e.g., "require", "disable", "verify-full").
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`

	// ConnectionTimeout is the timeout for establishing database connections.
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
}

// SequenceConfig selects the auto-id counter allocator.
type SequenceConfig struct {
	// Type is "memory", "redis" or "dynamodb".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// KeyPrefix namespaces the counter keys in Redis and DynamoDB.
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`

	// RedisConfig is used when Type is "redis".
	RedisConfig RedisConfig `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`

	// DynamoDBConfig is used when Type is "dynamodb".
	DynamoDBConfig DynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`

	// MaxRetries is the maximum number of retries for failed operations.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Endpoints is a list of Redis endpoints.
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`

	// Password is the authentication password for Redis.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB is the Redis database number (0-15).
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// PoolSize is the connection pool size per node.
	PoolSize int `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections in the pool.
	MinIdleConns int `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// DynamoDBConfig contains DynamoDB connection settings.
type DynamoDBConfig struct {
	// Region is the AWS region.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// TableName is the DynamoDB table holding the counters.
	TableName string `yaml:"table_name,omitempty" json:"table_name,omitempty"`

	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey are optional static credentials.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// TableConfig contains table-specific configuration overrides.
type TableConfig struct {
	// WriteBackBatchSize is the batch size for write-back operations for this table.
	WriteBackBatchSize int `yaml:"writeback_batch_size,omitempty" json:"writeback_batch_size,omitempty"`

	// DrainRate is the maximum number of statements per second drained for this table.
	DrainRate int `yaml:"drain_rate,omitempty" json:"drain_rate,omitempty"`

	// Async makes Insert queue the statements of this table for the drainer.
	Async bool `yaml:"async,omitempty" json:"async,omitempty"`
}

// WriteBackConfig contains asynchronous insert configuration.
type WriteBackConfig struct {
	// BatchSize is the number of queued inserts dequeued at once.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// DrainRate is the default maximum number of statements per second to drain.
	DrainRate int `yaml:"drain_rate,omitempty" json:"drain_rate,omitempty"`

	// MaxRetries is the maximum number of retries for a failing insert.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// RetryBackoffBase is the base duration for exponential backoff retries.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base,omitempty" json:"retry_backoff_base,omitempty"`

	// RetryBackoffMax is the maximum duration for exponential backoff retries.
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max,omitempty" json:"retry_backoff_max,omitempty"`

	// PollInterval is how often an idle drainer checks the queue.
	PollInterval time.Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`

	// QueueType specifies the queue implementation type.
	// Options: "memory", "redis", "kafka" (default: "memory").
	QueueType string `yaml:"queue_type,omitempty" json:"queue_type,omitempty"`

	// QueueBufferSize is the buffer size for the in-memory queue.
	QueueBufferSize int `yaml:"queue_buffer_size,omitempty" json:"queue_buffer_size,omitempty"`

	// KeyPrefix namespaces the Redis queue key.
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`

	// RedisConfig is used when QueueType is "redis".
	RedisConfig RedisConfig `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`

	// KafkaConfig is used when QueueType is "kafka".
	KafkaConfig KafkaConfig `yaml:"kafka_config,omitempty" json:"kafka_config,omitempty"`
}

// KafkaConfig contains configuration for Kafka queue.
type KafkaConfig struct {
	// Brokers is a list of Kafka broker addresses (e.g., ["localhost:9092"]).
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`

	// Topic is the Kafka topic name for queued inserts.
	Topic string `yaml:"topic,omitempty" json:"topic,omitempty"`

	// GroupID is the consumer group ID for reading from Kafka.
	GroupID string `yaml:"group_id,omitempty" json:"group_id,omitempty"`

	// BatchSize is the batch size for Kafka producer.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// BatchTimeout is the timeout for batching messages.
	BatchTimeout time.Duration `yaml:"batch_timeout,omitempty" json:"batch_timeout,omitempty"`

	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// RequiredAcks is the number of acknowledgments required (1, or -1 for all).
	RequiredAcks int `yaml:"required_acks,omitempty" json:"required_acks,omitempty"`

	// MaxMessageBytes is the maximum message size in bytes.
	MaxMessageBytes int `yaml:"max_message_bytes,omitempty" json:"max_message_bytes,omitempty"`

	// MinBytes is the minimum number of bytes to fetch.
	MinBytes int `yaml:"min_bytes,omitempty" json:"min_bytes,omitempty"`

	// MaxBytes is the maximum number of bytes to fetch.
	MaxBytes int `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`

	// MaxWait is the maximum time to wait for data.
	MaxWait time.Duration `yaml:"max_wait,omitempty" json:"max_wait,omitempty"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// Development selects zap's development preset.
	Development bool `yaml:"development,omitempty" json:"development,omitempty"`
}

// DefaultConfig returns a configuration that renders SQLite text, allocates
// counters in memory and queues asynchronous inserts in memory. Set
// Database to connect to a database.
func DefaultConfig() *Config {
	return &Config{
		Sequence: SequenceConfig{
			Type:      "memory",
			KeyPrefix: "relmap:seq:",
		},
		Tables: make(map[string]TableConfig),
		WriteBack: WriteBackConfig{
			BatchSize:        100,
			DrainRate:        50,
			MaxRetries:       5,
			RetryBackoffBase: 1 * time.Second,
			RetryBackoffMax:  30 * time.Second,
			PollInterval:     100 * time.Millisecond,
			QueueType:        "memory",
			QueueBufferSize:  10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML configuration file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return config, nil
}
