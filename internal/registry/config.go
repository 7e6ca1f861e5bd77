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
)

// EnvPrefix is the prefix of every environment variable LoadFromEnv reads.
const EnvPrefix = "ENTITY_CREATOR_"

// ConfigValidator is the Strategy interface for validating configuration.
// Each KV backend (memory, Redis, DynamoDB) provides its own validator.
type ConfigValidator interface {
	// Validate validates the internal configuration for this KV store type.
	// It should validate only the KVStore-specific configuration.
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
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator with the default registry.
// Called from the init() function of each KV backend.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator retrieves a validator by type from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: defaultInternalConfig(),
	}
}

// DefaultInternalConfig returns a copy of the default configuration.
func DefaultInternalConfig() *InternalConfig {
	return defaultInternalConfig()
}

func defaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		KVStore: InternalKVStoreConfig{
			Type: "memory",
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				DB:           0,
				PoolSize:     10,
				MinIdleConns: 5,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Database: InternalDatabaseConfig{
			Type:              "mysql",
			Host:              "localhost",
			Port:              3306,
			Database:          "entity_creator",
			Username:          "root",
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		Commit: InternalCommitConfig{
			BatchSize:        10,
			DrainRate:        5, // DDL is expensive; a handful of tables per second is plenty
			MaxRetries:       5,
			RetryBackoffBase: 1 * time.Second,
			RetryBackoffMax:  30 * time.Second,
			OnDuplicate:      OnDuplicateFail,
			QueueType:        "memory",
			QueueBufferSize:  1000,
			KafkaConfig: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "entity-creator-commits",
				GroupID:         "entity-creator-drainer",
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
		Session: InternalSessionConfig{
			Namespace:   "entity-creator",
			SnapshotTTL: 24 * time.Hour,
			JournalTTL:  24 * time.Hour,
			EventBuffer: 64,
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
// Fields missing from data keep their default values.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromJSON loads configuration from JSON data.
// Durations are given in nanoseconds.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromEnv applies environment variable overrides on top of the current
// configuration. Variables follow the pattern ENTITY_CREATOR_<SECTION>_<KEY>:
//   - ENTITY_CREATOR_KVSTORE_TYPE=redis
//   - ENTITY_CREATOR_KVSTORE_ENDPOINTS=localhost:6379,localhost:6380
//   - ENTITY_CREATOR_DATABASE_HOST=localhost
//   - ENTITY_CREATOR_COMMIT_DRAIN_RATE=10
//   - ENTITY_CREATOR_SESSION_SNAPSHOT_TTL=12h
//   - ENTITY_CREATOR_LOGGING_SEQ_URL=http://localhost:5341
//
// Values that fail to parse are ignored.
func (cm *ConfigManager) LoadFromEnv() error {
	config := *cm.config

	// KV store
	envString("KVSTORE_TYPE", &config.KVStore.Type)
	if val := os.Getenv(EnvPrefix + "KVSTORE_ENDPOINTS"); val != "" {
		config.KVStore.RedisConfig.Endpoints = strings.Split(val, ",")
	}
	envString("KVSTORE_PASSWORD", &config.KVStore.RedisConfig.Password)
	envInt("KVSTORE_DB", &config.KVStore.RedisConfig.DB)
	envInt("KVSTORE_POOL_SIZE", &config.KVStore.RedisConfig.PoolSize)
	envInt("KVSTORE_MAX_RETRIES", &config.KVStore.MaxRetries)
	envString("KVSTORE_DYNAMODB_REGION", &config.KVStore.DynamoDBConfig.Region)
	envString("KVSTORE_DYNAMODB_TABLE_NAME", &config.KVStore.DynamoDBConfig.TableName)
	envString("KVSTORE_DYNAMODB_ENDPOINT", &config.KVStore.DynamoDBConfig.Endpoint)

	// Database
	envString("DATABASE_TYPE", &config.Database.Type)
	envString("DATABASE_HOST", &config.Database.Host)
	envInt("DATABASE_PORT", &config.Database.Port)
	envString("DATABASE_DATABASE", &config.Database.Database)
	envString("DATABASE_USERNAME", &config.Database.Username)
	envString("DATABASE_PASSWORD", &config.Database.Password)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Database.MaxIdleConns)

	// Commit pipeline
	envInt("COMMIT_BATCH_SIZE", &config.Commit.BatchSize)
	envInt("COMMIT_DRAIN_RATE", &config.Commit.DrainRate)
	envInt("COMMIT_MAX_RETRIES", &config.Commit.MaxRetries)
	envDuration("COMMIT_RETRY_BACKOFF_BASE", &config.Commit.RetryBackoffBase)
	envDuration("COMMIT_RETRY_BACKOFF_MAX", &config.Commit.RetryBackoffMax)
	envString("COMMIT_ON_DUPLICATE", &config.Commit.OnDuplicate)
	envString("COMMIT_QUEUE_TYPE", &config.Commit.QueueType)
	if val := os.Getenv(EnvPrefix + "COMMIT_KAFKA_BROKERS"); val != "" {
		config.Commit.KafkaConfig.Brokers = strings.Split(val, ",")
	}
	envString("COMMIT_KAFKA_TOPIC", &config.Commit.KafkaConfig.Topic)

	// Sessions
	envString("SESSION_NAMESPACE", &config.Session.Namespace)
	envDuration("SESSION_SNAPSHOT_TTL", &config.Session.SnapshotTTL)
	envDuration("SESSION_JOURNAL_TTL", &config.Session.JournalTTL)
	envInt("SESSION_EVENT_BUFFER", &config.Session.EventBuffer)

	// Logging
	envString("LOGGING_LEVEL", &config.Logging.Level)
	envString("LOGGING_SEQ_URL", &config.Logging.SeqURL)

	if err := cm.validateConfig(&config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = &config
	return nil
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// validateConfig validates the configuration and returns an error if invalid.
// KV store validation is delegated to the validator registered for its type.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	if config.KVStore.Type == "" {
		return fmt.Errorf("kvstore.type is required")
	}

	validator, exists := GetValidator(config.KVStore.Type)
	if !exists {
		return fmt.Errorf("unsupported KV store type: %s", config.KVStore.Type)
	}

	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("kvstore validation failed: %w", err)
	}

	// Database
	if config.Database.Type != "mysql" {
		return fmt.Errorf("database.type must be 'mysql', got %q", config.Database.Type)
	}
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Database.Port <= 0 || config.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database.username is required")
	}
	if config.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be greater than 0")
	}

	// Commit pipeline
	if config.Commit.BatchSize <= 0 {
		return fmt.Errorf("commit.batch_size must be greater than 0")
	}
	if config.Commit.DrainRate <= 0 {
		return fmt.Errorf("commit.drain_rate must be greater than 0")
	}
	if config.Commit.MaxRetries < 0 {
		return fmt.Errorf("commit.max_retries must be non-negative")
	}
	if config.Commit.RetryBackoffBase <= 0 {
		return fmt.Errorf("commit.retry_backoff_base must be greater than 0")
	}
	if config.Commit.RetryBackoffMax < config.Commit.RetryBackoffBase {
		return fmt.Errorf("commit.retry_backoff_max must be >= commit.retry_backoff_base")
	}
	switch config.Commit.OnDuplicate {
	case OnDuplicateFail, OnDuplicateIgnore, OnDuplicateUpdate:
	default:
		return fmt.Errorf("commit.on_duplicate must be 'fail', 'ignore', or 'update'")
	}
	switch config.Commit.QueueType {
	case "", "memory", "redis", "kafka":
	default:
		return fmt.Errorf("commit.queue_type must be 'memory', 'redis', or 'kafka'")
	}
	if config.Commit.QueueType == "redis" && config.KVStore.Type != "redis" {
		return fmt.Errorf("commit.queue_type 'redis' requires kvstore.type 'redis'")
	}
	if config.Commit.QueueType == "kafka" {
		if len(config.Commit.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("kafka_config.brokers is required when queue_type is 'kafka'")
		}
		if config.Commit.KafkaConfig.Topic == "" {
			return fmt.Errorf("kafka_config.topic is required when queue_type is 'kafka'")
		}
	}

	// Sessions
	if config.Session.Namespace == "" {
		return fmt.Errorf("session.namespace is required")
	}
	if config.Session.SnapshotTTL < 0 || config.Session.JournalTTL < 0 {
		return fmt.Errorf("session TTLs must be non-negative")
	}
	if config.Session.EventBuffer < 0 {
		return fmt.Errorf("session.event_buffer must be non-negative")
	}

	// Logging
	switch strings.ToLower(config.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}
