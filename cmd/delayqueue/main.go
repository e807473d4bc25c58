package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/arnabghosh/delayed-queue/internal/api"
	"github.com/arnabghosh/delayed-queue/internal/config"
	"github.com/arnabghosh/delayed-queue/internal/engine"
	"github.com/arnabghosh/delayed-queue/internal/idgen"
	"github.com/arnabghosh/delayed-queue/internal/lease"
	"github.com/arnabghosh/delayed-queue/internal/mq"
	"github.com/arnabghosh/delayed-queue/internal/runtime"
	"github.com/arnabghosh/delayed-queue/internal/storage"
	"github.com/arnabghosh/delayed-queue/internal/storage/inmemory"
	"github.com/arnabghosh/delayed-queue/internal/storage/mongodb"
	"github.com/arnabghosh/delayed-queue/internal/storage/sqlite"
	"github.com/arnabghosh/delayed-queue/internal/topics"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Configuration comes from .env and the environment; flags override it
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	storageType := flag.String("storage", cfg.Storage.Type, "Message store (inmemory, mongodb, sqlite)")
	redisURL := flag.String("redis-url", cfg.Redis.URL, "Redis connection URL")
	noRedis := flag.Bool("no-redis", !cfg.Redis.Enabled, "Keep queues and leases in process memory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		*logLevel = envLogLevel
	}
	cfg.Server.Port = *port
	cfg.Storage.Type = *storageType
	cfg.Redis.URL = *redisURL
	cfg.Redis.Enabled = !*noRedis

	// Configure logger
	var level slog.Level
	switch strings.ToLower(*logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting delayed queue service",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Type,
		"redis_enabled", cfg.Redis.Enabled,
		"instance_id", cfg.Lock.InstanceID,
		"topics", len(cfg.Topics),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Delayed queue service stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	var client *redis.Client
	if cfg.Redis.Enabled {
		client, err = mq.NewRedisClient(cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return err
		}
		defer client.Close()
		logger.Info("Connected to Redis", "redis_url", cfg.Redis.URL)
	}

	ids, err := newIDGenerator(ctx, cfg.Engine, client)
	if err != nil {
		return err
	}

	var locker lease.Locker
	if client != nil {
		locker = lease.NewRedisLocker(client, lease.RedisLockerConfig{
			InstanceID: cfg.Lock.InstanceID,
			TTL:        cfg.Lock.TTL,
		}, logger)
	} else {
		locker = lease.NewMemoryLocker(cfg.Lock.TTL)
	}

	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return err
	}
	rt := runtime.New(poolConfig, cfg.Listener.PoolSize, logger)

	handlers := topics.NewDefaultRegistry(cfg.Handlers.SimulateWork, logger)
	if len(cfg.Kafka.Brokers) > 0 {
		forwarder, err := topics.NewKafkaForwarder(topics.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		}, logger)
		if err != nil {
			return err
		}
		defer forwarder.Close()
		handlers.Register(topics.HandlerKafka, forwarder)
		logger.Info("Kafka forwarder enabled", "brokers", cfg.Kafka.Brokers, "kafka_topic", cfg.Kafka.Topic)
	}

	registry := engine.NewRegistry(logger)
	for _, topic := range cfg.Topics {
		handler, err := handlers.Resolve(topic.Handler)
		if err != nil {
			return fmt.Errorf("topic %s: %w", topic.Name, err)
		}

		var queue mq.DelayQueue = mq.NewInMemoryDelayQueue()
		if client != nil {
			queue = mq.NewRedisDelayQueue(client, topic.QueueName, logger)
		}

		e, err := engine.New(topic, handler, engine.Dependencies{
			Store:   store,
			Queue:   queue,
			Locker:  locker,
			IDs:     ids,
			Runtime: rt,
			Logger:  logger,
			Options: engine.Options{
				EnqueueRetries: cfg.Engine.EnqueueRetries,
				EnqueueBackoff: cfg.Engine.EnqueueBackoff,
				DispatchBatch:  cfg.Engine.DispatchBatch,
			},
		})
		if err != nil {
			return err
		}
		if err := registry.Register(e); err != nil {
			return err
		}
	}

	if err := registry.StartAll(ctx); err != nil {
		return err
	}

	reconciler, err := engine.NewReconciler(registry, cfg.Reconcile.Schedule, cfg.Reconcile.Timeout, logger)
	if err != nil {
		registry.StopAll()
		return err
	}
	reconciler.Start()

	router := api.NewRouter(registry, store, api.RouterConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimitRPS:     cfg.RateLimit.RPS,
		RateLimitBurst:   cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-serverErrors:
		logger.Error("Server error", "error", serveErr)
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}
	reconciler.Stop()
	registry.StopAll()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Error("Processing pool did not drain", "error", err)
	}

	return serveErr
}

// openStore connects the configured message store and returns its closer
func openStore(cfg config.StorageConfig) (storage.MessageRepository, func(), error) {
	switch cfg.Type {
	case "mongodb":
		repo, err := mongodb.NewMessageRepository(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		slog.Info("Using MongoDB storage", "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return repo, func() { _ = repo.Close(context.Background()) }, nil

	case "sqlite":
		repo, err := sqlite.NewMessageRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		slog.Info("Using sqlite storage", "path", cfg.SQLitePath)
		return repo, func() { _ = repo.Close() }, nil

	default:
		slog.Warn("Using in-memory storage; messages do not survive a restart")
		return inmemory.NewMessageRepository(), func() {}, nil
	}
}

// newIDGenerator builds the configured message ID generator
func newIDGenerator(ctx context.Context, cfg config.EngineConfig, client *redis.Client) (idgen.Generator, error) {
	if cfg.IDGenerator != "snowflake" {
		return idgen.UUIDGenerator{}, nil
	}
	if client == nil {
		return nil, errors.New("snowflake ids require redis")
	}

	workerID, err := idgen.AssignWorkerID(ctx, client, cfg.AppName)
	if err != nil {
		return nil, err
	}
	slog.Info("Assigned snowflake worker id", "worker_id", workerID, "app_name", cfg.AppName)
	return idgen.NewSnowflakeGenerator(workerID)
}
