package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/relmap/internal/schema"
)

// ConfigValidator is the Strategy interface for validating configuration.
// Each sequence allocator backend (memory, Redis, DynamoDB) provides its own
// validator for its section of the configuration.
type ConfigValidator interface {
	// Validate validates the allocator-specific part of the configuration.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis", "dynamodb").
	Type() string
}

var (
	// validatorRegistry stores all registered config validators.
	validatorRegistry = make(map[string]ConfigValidator)

	// validatorRegistryMutex protects the validator registry from concurrent access.
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry provides methods to register and retrieve config validators.
type ValidationStrategyRegistry struct{}

// Register registers a config validator.
// This is called automatically by each implementation's init() function.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}

	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
// Returns the validator and true if found, nil and false otherwise.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator with the default registry.
// This is the preferred way to register validators from init() functions.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator retrieves a validator by type from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// EnvPrefix is the prefix of environment variables read by LoadFromEnv.
const EnvPrefix = "RELMAP_"

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultInternalConfig(),
	}
}

// DefaultInternalConfig returns a configuration with sensible defaults. It
// renders SQLite text, allocates counters in memory and has no database
// connection.
func DefaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		Database: InternalDatabaseConfig{
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		Sequence: InternalSequenceConfig{
			Type:      "memory",
			KeyPrefix: "relmap:seq:",
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 5,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Tables: make(map[string]InternalTableConfig),
		WriteBack: InternalWriteBackConfig{
			BatchSize:        100,
			DrainRate:        50,
			MaxRetries:       5,
			RetryBackoffBase: 1 * time.Second,
			RetryBackoffMax:  30 * time.Second,
			PollInterval:     100 * time.Millisecond,
			QueueType:        "memory",
			QueueBufferSize:  10000,
			KeyPrefix:        "relmap:wbq",
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 5,
			},
			KafkaConfig: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "relmap-inserts",
				GroupID:         "relmap-inserts",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				ReadTimeout:     10 * time.Second,
				RequiredAcks:    -1,      // All replicas
				MaxMessageBytes: 1000000, // 1MB
				MinBytes:        1,
				MaxBytes:        10 * 1024 * 1024, // 10MB
				MaxWait:         100 * time.Millisecond,
			},
		},
		Logging: InternalLoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromJSON loads configuration from JSON data.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables follow the pattern: RELMAP_<SECTION>_<KEY>
// Examples:
//   - RELMAP_DIALECT=postgres
//   - RELMAP_DATABASE_TYPE=postgres
//   - RELMAP_DATABASE_HOST=localhost
//   - RELMAP_SEQUENCE_TYPE=redis
//   - RELMAP_SEQUENCE_ENDPOINTS=localhost:6379,localhost:6380
//   - RELMAP_WRITEBACK_BATCH_SIZE=100
func (cm *ConfigManager) LoadFromEnv() error {
	config := DefaultInternalConfig()
	if err := applyEnv(config, os.LookupEnv); err != nil {
		return err
	}
	return cm.apply(config)
}

func (cm *ConfigManager) apply(config *InternalConfig) error {
	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// applyEnv overrides config from variables found by lookup.
func applyEnv(config *InternalConfig, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			*dst = val
		}
	}
	list := func(name string, dst *[]string) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			*dst = strings.Split(val, ",")
		}
	}
	var errs []string
	num := func(name string, dst *int) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			*dst = val == "true" || val == "1"
		}
	}

	str("DIALECT", &config.Dialect)

	str("DATABASE_TYPE", &config.Database.Type)
	str("DATABASE_DSN", &config.Database.DSN)
	str("DATABASE_HOST", &config.Database.Host)
	num("DATABASE_PORT", &config.Database.Port)
	str("DATABASE_DATABASE", &config.Database.Database)
	str("DATABASE_USERNAME", &config.Database.Username)
	str("DATABASE_PASSWORD", &config.Database.Password)
	str("DATABASE_SSL_MODE", &config.Database.SSLMode)
	num("DATABASE_MAX_OPEN_CONNS", &config.Database.MaxOpenConns)
	num("DATABASE_MAX_IDLE_CONNS", &config.Database.MaxIdleConns)
	dur("DATABASE_CONNECTION_TIMEOUT", &config.Database.ConnectionTimeout)

	str("SEQUENCE_TYPE", &config.Sequence.Type)
	str("SEQUENCE_KEY_PREFIX", &config.Sequence.KeyPrefix)
	list("SEQUENCE_ENDPOINTS", &config.Sequence.RedisConfig.Endpoints)
	str("SEQUENCE_PASSWORD", &config.Sequence.RedisConfig.Password)
	num("SEQUENCE_DB", &config.Sequence.RedisConfig.DB)
	num("SEQUENCE_POOL_SIZE", &config.Sequence.RedisConfig.PoolSize)
	num("SEQUENCE_MAX_RETRIES", &config.Sequence.MaxRetries)
	str("SEQUENCE_DYNAMODB_REGION", &config.Sequence.DynamoDBConfig.Region)
	str("SEQUENCE_DYNAMODB_TABLE_NAME", &config.Sequence.DynamoDBConfig.TableName)
	str("SEQUENCE_DYNAMODB_ENDPOINT", &config.Sequence.DynamoDBConfig.Endpoint)

	num("WRITEBACK_BATCH_SIZE", &config.WriteBack.BatchSize)
	num("WRITEBACK_DRAIN_RATE", &config.WriteBack.DrainRate)
	num("WRITEBACK_MAX_RETRIES", &config.WriteBack.MaxRetries)
	dur("WRITEBACK_POLL_INTERVAL", &config.WriteBack.PollInterval)
	str("WRITEBACK_QUEUE_TYPE", &config.WriteBack.QueueType)
	list("WRITEBACK_REDIS_ENDPOINTS", &config.WriteBack.RedisConfig.Endpoints)
	list("WRITEBACK_KAFKA_BROKERS", &config.WriteBack.KafkaConfig.Brokers)
	str("WRITEBACK_KAFKA_TOPIC", &config.WriteBack.KafkaConfig.Topic)

	str("LOGGING_LEVEL", &config.Logging.Level)
	flag("LOGGING_DEVELOPMENT", &config.Logging.Development)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// GetTableConfig returns the configuration for a specific table.
// If table-specific configuration exists, it is merged with defaults.
func (cm *ConfigManager) GetTableConfig(tableName string) InternalTableConfig {
	tableConfig, exists := cm.config.Tables[tableName]
	if !exists {
		return InternalTableConfig{
			WriteBackBatchSize: cm.config.WriteBack.BatchSize,
			DrainRate:          cm.config.WriteBack.DrainRate,
		}
	}

	if tableConfig.WriteBackBatchSize == 0 {
		tableConfig.WriteBackBatchSize = cm.config.WriteBack.BatchSize
	}
	if tableConfig.DrainRate == 0 {
		tableConfig.DrainRate = cm.config.WriteBack.DrainRate
	}
	return tableConfig
}

// DialectName returns the SQL dialect the configuration selects. An explicit
// dialect wins, then the database type, then SQLite.
func (c *InternalConfig) DialectName() string {
	if c.Dialect != "" {
		return strings.ToLower(c.Dialect)
	}
	switch strings.ToLower(c.Database.Type) {
	case "":
		return "sqlite"
	case "postgresql":
		return "postgres"
	default:
		return strings.ToLower(c.Database.Type)
	}
}

// validateConfig validates the configuration and returns an error if invalid.
// Uses Strategy pattern for sequence allocator validation.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	if _, err := schema.LookupDialect(config.DialectName()); err != nil {
		return fmt.Errorf("dialect: %w", err)
	}

	if config.Sequence.Type == "" {
		return fmt.Errorf("sequence.type is required")
	}
	validator, exists := GetValidator(config.Sequence.Type)
	if !exists {
		return fmt.Errorf("unsupported sequence type: %s", config.Sequence.Type)
	}
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if err := validateDatabase(config.Database); err != nil {
		return err
	}

	if config.WriteBack.BatchSize <= 0 {
		return fmt.Errorf("writeback.batch_size must be greater than 0")
	}
	if config.WriteBack.DrainRate <= 0 {
		return fmt.Errorf("writeback.drain_rate must be greater than 0")
	}
	if config.WriteBack.MaxRetries < 0 {
		return fmt.Errorf("writeback.max_retries must be non-negative")
	}
	if config.WriteBack.RetryBackoffMax < config.WriteBack.RetryBackoffBase {
		return fmt.Errorf("writeback.retry_backoff_max must be >= writeback.retry_backoff_base")
	}
	switch config.WriteBack.QueueType {
	case "", "memory", "kafka":
	case "redis":
		if len(config.WriteBack.RedisConfig.Endpoints) == 0 {
			return fmt.Errorf("writeback.redis_config.endpoints is required when queue_type is 'redis'")
		}
	default:
		return fmt.Errorf("writeback.queue_type must be 'memory', 'redis', or 'kafka'")
	}
	if config.WriteBack.QueueType == "kafka" {
		if len(config.WriteBack.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("kafka_config.brokers is required when queue_type is 'kafka'")
		}
		if config.WriteBack.KafkaConfig.Topic == "" {
			return fmt.Errorf("kafka_config.topic is required when queue_type is 'kafka'")
		}
	}
	// Queued batches outlive the process with their counters already
	// allocated, and a memory allocator reseeds only from rows in the table.
	if config.Sequence.Type == "memory" && (config.WriteBack.QueueType == "redis" || config.WriteBack.QueueType == "kafka") {
		return fmt.Errorf("sequence.type 'memory' cannot be used with writeback.queue_type '%s'; use 'redis' or 'dynamodb' counters", config.WriteBack.QueueType)
	}

	for name, t := range config.Tables {
		if t.WriteBackBatchSize < 0 || t.DrainRate < 0 {
			return fmt.Errorf("tables.%s: batch size and drain rate must be non-negative", name)
		}
	}

	switch strings.ToLower(config.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

// validateDatabase checks the connection fields. An empty type means no
// database is configured.
func validateDatabase(db InternalDatabaseConfig) error {
	if db.Type == "" {
		return nil
	}
	switch strings.ToLower(db.Type) {
	case "mysql", "postgres", "postgresql":
	default:
		return fmt.Errorf("database.type must be 'mysql' or 'postgres'")
	}
	if db.MaxOpenConns < 0 || db.MaxIdleConns < 0 {
		return fmt.Errorf("database connection pool sizes must be non-negative")
	}
	if db.DSN != "" {
		return nil
	}
	if db.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if db.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if db.Username == "" {
		return fmt.Errorf("database.username is required")
	}
	return nil
}
