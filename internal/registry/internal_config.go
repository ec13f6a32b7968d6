package registry

import (
	"time"
)

// InternalConfig represents the internal configuration structure.
// This is a copy of the public Config type to avoid import cycles.
type InternalConfig struct {
	Dialect   string                         `yaml:"dialect" json:"dialect"`
	Database  InternalDatabaseConfig         `yaml:"database" json:"database"`
	Sequence  InternalSequenceConfig         `yaml:"sequence" json:"sequence"`
	Tables    map[string]InternalTableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`
	WriteBack InternalWriteBackConfig        `yaml:"writeback" json:"writeback"`
	Logging   InternalLoggingConfig          `yaml:"logging" json:"logging"`
}

// InternalSequenceConfig selects the allocator of auto-id counters.
// Supported types are registered by the sequence package ("memory", "redis",
// "dynamodb").
type InternalSequenceConfig struct {
	Type           string                 `yaml:"type" json:"type"`
	KeyPrefix      string                 `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
	RedisConfig    InternalRedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig InternalDynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`
	MaxRetries     int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout    time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout    time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout   time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db" json:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalDatabaseConfig contains configuration for the SQL database.
type InternalDatabaseConfig struct {
	Type              string        `yaml:"type" json:"type"`
	DSN               string        `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	Database          string        `yaml:"database" json:"database"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode           string        `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// InternalTableConfig contains table-specific configuration overrides.
type InternalTableConfig struct {
	WriteBackBatchSize int  `yaml:"writeback_batch_size" json:"writeback_batch_size"`
	DrainRate          int  `yaml:"drain_rate" json:"drain_rate"`
	Async              bool `yaml:"async" json:"async"`
}

// InternalWriteBackConfig contains asynchronous insert processing configuration.
type InternalWriteBackConfig struct {
	BatchSize        int                 `yaml:"batch_size" json:"batch_size"`
	DrainRate        int                 `yaml:"drain_rate" json:"drain_rate"` // Statements per second executed by the drainer
	MaxRetries       int                 `yaml:"max_retries" json:"max_retries"`
	RetryBackoffBase time.Duration       `yaml:"retry_backoff_base" json:"retry_backoff_base"`
	RetryBackoffMax  time.Duration       `yaml:"retry_backoff_max" json:"retry_backoff_max"`
	PollInterval     time.Duration       `yaml:"poll_interval" json:"poll_interval"`
	QueueType        string              `yaml:"queue_type" json:"queue_type"`
	QueueBufferSize  int                 `yaml:"queue_buffer_size" json:"queue_buffer_size"`
	KeyPrefix        string              `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
	RedisConfig      InternalRedisConfig `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	KafkaConfig      InternalKafkaConfig `yaml:"kafka_config" json:"kafka_config"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	GroupID         string        `yaml:"group_id" json:"group_id"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait"`
}

// InternalLoggingConfig selects the zap logger preset.
type InternalLoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}
