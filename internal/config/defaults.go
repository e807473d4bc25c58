package config

import "time"

// Default configuration values
const (
	// Server defaults
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Redis defaults
	DefaultRedisURL      = "redis://localhost:6379/0"
	DefaultRedisPoolSize = 10

	// Processor pool defaults
	DefaultProcessorCoreWorkers   = 10
	DefaultProcessorMaxWorkers    = 20
	DefaultProcessorQueueCapacity = 1000
	DefaultProcessorKeepAlive     = 60 * time.Second

	// Listener defaults
	DefaultListenerPoolSize = 5

	// Lease defaults
	DefaultLockTTL = 30 * time.Second

	// Engine defaults
	DefaultEnqueueRetries = 3
	DefaultEnqueueBackoff = 100 * time.Millisecond
	DefaultDispatchBatch  = 100
	DefaultAppName        = "delayqueue"

	// Rate limit defaults for write endpoints
	DefaultRateLimitRPS   = 500.0
	DefaultRateLimitBurst = 1000

	// Reconciliation defaults
	DefaultReconcileSchedule = "@every 30s"
	DefaultReconcileTimeout  = 30 * time.Second

	// Kafka defaults
	DefaultKafkaTopic = "delayed-messages"

	// MongoDB defaults
	DefaultMongoURI        = "mongodb://localhost:27017"
	DefaultMongoDatabase   = "delayqueue"
	DefaultMongoCollection = "delayed_messages"

	// SQLite defaults
	DefaultSQLitePath = "data/delayqueue.db"
)
