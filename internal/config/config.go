package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/workerpool"
	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Processor ProcessorConfig
	Listener  ListenerConfig
	Lock      LockConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
	Reconcile ReconcileConfig
	Kafka     KafkaConfig
	Handlers  HandlersConfig
	Topics    []domain.TopicConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig holds the coordination backend configuration.
// Enabled=false keeps queues and leases in process memory.
type RedisConfig struct {
	Enabled  bool
	URL      string
	PoolSize int
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type            string // inmemory, mongodb or sqlite
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	SQLitePath      string
}

// ProcessorConfig sizes the shared message processing pool
type ProcessorConfig struct {
	CoreWorkers   int
	MaxWorkers    int
	QueueCapacity int
	KeepAlive     time.Duration
	Policy        string
}

// ListenerConfig sizes the dispatcher scheduler and sets topic tick defaults
type ListenerConfig struct {
	PoolSize      int
	CheckInterval time.Duration
	PollTimeout   time.Duration
}

// LockConfig holds lease configuration
type LockConfig struct {
	WaitTimeout time.Duration
	TTL         time.Duration
	InstanceID  string
}

// EngineConfig holds enqueue and dispatch tuning
type EngineConfig struct {
	EnqueueRetries int
	EnqueueBackoff time.Duration
	DispatchBatch  int
	IDGenerator    string // uuid or snowflake
	AppName        string
}

// RateLimitConfig holds the write endpoint limiter configuration
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// ReconcileConfig holds the periodic reconciliation schedule; empty disables it
type ReconcileConfig struct {
	Schedule string
	Timeout  time.Duration
}

// KafkaConfig configures the kafka forwarder handler; no brokers disables it
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
}

// HandlersConfig holds built-in handler options
type HandlersConfig struct {
	SimulateWork bool
}

// Load loads configuration from a .env file when present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", DefaultServerHost),
			Port:            getEnvAsInt("SERVER_PORT", DefaultServerPort),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", DefaultReadTimeout),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", DefaultWriteTimeout),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", DefaultIdleTimeout),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			URL:      getEnv("REDIS_URL", DefaultRedisURL),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", DefaultRedisPoolSize),
		},
		Storage: StorageConfig{
			Type:            getEnv("STORAGE_TYPE", "inmemory"),
			MongoURI:        getEnv("MONGODB_URI", DefaultMongoURI),
			MongoDatabase:   getEnv("MONGODB_DATABASE", DefaultMongoDatabase),
			MongoCollection: getEnv("MONGODB_COLLECTION", DefaultMongoCollection),
			SQLitePath:      getEnv("SQLITE_PATH", DefaultSQLitePath),
		},
		Processor: ProcessorConfig{
			CoreWorkers:   getEnvAsInt("PROCESSOR_CORE_WORKERS", DefaultProcessorCoreWorkers),
			MaxWorkers:    getEnvAsInt("PROCESSOR_MAX_WORKERS", DefaultProcessorMaxWorkers),
			QueueCapacity: getEnvAsInt("PROCESSOR_QUEUE_CAPACITY", DefaultProcessorQueueCapacity),
			KeepAlive:     getEnvAsDuration("PROCESSOR_KEEP_ALIVE", DefaultProcessorKeepAlive),
			Policy:        getEnv("PROCESSOR_POLICY", "caller_runs"),
		},
		Listener: ListenerConfig{
			PoolSize:      getEnvAsInt("LISTENER_POOL_SIZE", DefaultListenerPoolSize),
			CheckInterval: getEnvAsDuration("LISTENER_CHECK_INTERVAL", domain.DefaultCheckInterval),
			PollTimeout:   getEnvAsDuration("LISTENER_POLL_TIMEOUT", domain.DefaultPollTimeout),
		},
		Lock: LockConfig{
			WaitTimeout: getEnvAsDuration("LOCK_WAIT_TIMEOUT", domain.DefaultLockWaitTimeout),
			TTL:         getEnvAsDuration("LOCK_WATCHDOG_TTL", DefaultLockTTL),
			InstanceID:  getEnv("INSTANCE_ID", hostname()),
		},
		Engine: EngineConfig{
			EnqueueRetries: getEnvAsInt("ENQUEUE_RETRIES", DefaultEnqueueRetries),
			EnqueueBackoff: getEnvAsDuration("ENQUEUE_BACKOFF", DefaultEnqueueBackoff),
			DispatchBatch:  getEnvAsInt("DISPATCH_BATCH", DefaultDispatchBatch),
			IDGenerator:    getEnv("ID_GENERATOR", "uuid"),
			AppName:        getEnv("APP_NAME", DefaultAppName),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RPS:     getEnvAsFloat("RATE_LIMIT_RPS", DefaultRateLimitRPS),
			Burst:   getEnvAsInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		},
		Reconcile: ReconcileConfig{
			Schedule: getEnv("RECONCILE_SCHEDULE", DefaultReconcileSchedule),
			Timeout:  getEnvAsDuration("RECONCILE_TIMEOUT", DefaultReconcileTimeout),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsList("KAFKA_BROKERS"),
			Topic:        getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
			RequiredAcks: getEnvAsInt("KAFKA_REQUIRED_ACKS", -1),
		},
		Handlers: HandlersConfig{
			SimulateWork: getEnvAsBool("HANDLER_SIMULATE_WORK", true),
		},
	}

	// an unset variable falls back to the default, so "off" disables reconciliation
	if config.Reconcile.Schedule == "off" {
		config.Reconcile.Schedule = ""
	}

	topics, err := LoadTopics(getEnv("TOPICS_FILE", ""))
	if err != nil {
		return nil, err
	}
	config.Topics = config.applyTopicDefaults(topics)

	return config, nil
}

// applyTopicDefaults fills topic ticks and lease waits from the listener and lock groups
func (c *Config) applyTopicDefaults(topics []domain.TopicConfig) []domain.TopicConfig {
	out := make([]domain.TopicConfig, 0, len(topics))
	for _, t := range topics {
		if t.CheckInterval == 0 {
			t.CheckInterval = c.Listener.CheckInterval
		}
		if t.PollTimeout == 0 {
			t.PollTimeout = c.Listener.PollTimeout
		}
		if t.LockWaitTimeout == 0 {
			t.LockWaitTimeout = c.Lock.WaitTimeout
		}
		out = append(out, t.WithDefaults())
	}
	return out
}

// PoolConfig returns the processing pool configuration
func (c *Config) PoolConfig() (workerpool.Config, error) {
	policy, err := workerpool.ParsePolicy(c.Processor.Policy)
	if err != nil {
		return workerpool.Config{}, err
	}
	return workerpool.Config{
		Name:          "processor",
		CoreWorkers:   c.Processor.CoreWorkers,
		MaxWorkers:    c.Processor.MaxWorkers,
		QueueCapacity: c.Processor.QueueCapacity,
		KeepAlive:     c.Processor.KeepAlive,
		Policy:        policy,
	}, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "delayqueue"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Type {
	case "inmemory", "mongodb", "sqlite":
	default:
		return fmt.Errorf("invalid storage type: %s", c.Storage.Type)
	}

	if c.Processor.CoreWorkers <= 0 || c.Processor.MaxWorkers < c.Processor.CoreWorkers {
		return fmt.Errorf("invalid processor pool size: core=%d max=%d", c.Processor.CoreWorkers, c.Processor.MaxWorkers)
	}

	if c.Processor.QueueCapacity <= 0 {
		return fmt.Errorf("invalid processor queue capacity: %d", c.Processor.QueueCapacity)
	}

	if _, err := workerpool.ParsePolicy(c.Processor.Policy); err != nil {
		return err
	}

	if c.Listener.PoolSize <= 0 {
		return fmt.Errorf("invalid listener pool size: %d", c.Listener.PoolSize)
	}

	if c.Lock.TTL <= 0 {
		return fmt.Errorf("invalid lock ttl: %s", c.Lock.TTL)
	}

	switch c.Engine.IDGenerator {
	case "uuid", "snowflake":
	default:
		return fmt.Errorf("invalid id generator: %s", c.Engine.IDGenerator)
	}

	if c.Engine.IDGenerator == "snowflake" && !c.Redis.Enabled {
		return errors.New("snowflake ids need redis for worker id assignment")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: rps=%v burst=%d", c.RateLimit.RPS, c.RateLimit.Burst)
	}

	if len(c.Topics) == 0 {
		return errors.New("no topics configured")
	}

	seen := make(map[string]bool, len(c.Topics))
	for _, t := range c.Topics {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate topic: %s", t.Name)
		}
		seen[t.Name] = true
	}

	return nil
}
