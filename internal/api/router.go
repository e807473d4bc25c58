package api

import (
	"github.com/arnabghosh/delayed-queue/internal/api/handlers"
	"github.com/arnabghosh/delayed-queue/internal/api/middleware"
	"github.com/arnabghosh/delayed-queue/internal/engine"
	"github.com/arnabghosh/delayed-queue/internal/storage"
	"github.com/gin-gonic/gin"
)

// RouterConfig holds the HTTP surface options
type RouterConfig struct {
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

// Router manages API routing and handlers
type Router struct {
	engine         *gin.Engine
	config         RouterConfig
	messageHandler *handlers.MessageHandler
	topicHandler   *handlers.TopicHandler
}

// NewRouter creates a new API router with all handlers initialized
func NewRouter(registry *engine.Registry, store storage.MessageRepository, config RouterConfig) *Router {
	router := &Router{
		engine:         gin.New(),
		config:         config,
		messageHandler: handlers.NewMessageHandler(registry, store),
		topicHandler:   handlers.NewTopicHandler(registry),
	}

	router.setupMiddleware()
	router.setupRoutes()

	return router
}

// setupMiddleware configures global middleware
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.LoggingMiddleware())
	r.engine.Use(middleware.ErrorHandlerMiddleware())

	// Recovery middleware (catch panics)
	r.engine.Use(gin.Recovery())
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.topicHandler.ServiceHealth)

	v1 := r.engine.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		if r.config.RateLimitEnabled {
			messages.Use(middleware.RateLimitMiddleware(r.config.RateLimitRPS, r.config.RateLimitBurst))
		}
		{
			messages.POST("", r.messageHandler.Enqueue)
			messages.POST("/batch", r.messageHandler.EnqueueBatch)
			messages.GET("/:messageId", r.messageHandler.GetMessage)
			messages.POST("/:messageId/redeliver", r.messageHandler.Redeliver)
		}

		topics := v1.Group("/topics")
		{
			topics.GET("/stats", r.topicHandler.Stats)
			topics.GET("/:topic/health", r.topicHandler.Health)
		}
	}
}

// Engine returns the underlying Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
