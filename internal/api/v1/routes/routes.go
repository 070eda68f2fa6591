package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"innervoice/internal/api/v1/handlers"
)

// Container holds everything the v1 handlers need.
type Container struct {
	Queue   handlers.JobQueue
	Events  handlers.EventSource
	Health  handlers.HealthChecker
	GPU     handlers.GPUChecker
	Backend string
	Uploads handlers.UploadConfig
	Logger  *zap.Logger
}

// RegisterRoutes registers all v1 API routes
func RegisterRoutes(router *gin.RouterGroup, c *Container) {
	jobHandler := handlers.NewJobHandler(c.Queue, c.Uploads, c.Logger)
	jobs := router.Group("/jobs")
	{
		jobs.POST("", jobHandler.Submit)
		jobs.GET("/:id", jobHandler.Progress)
		jobs.DELETE("/:id", jobHandler.Cancel)
	}

	retries := router.Group("/retries")
	{
		retries.POST("", jobHandler.Retry)
		retries.GET("/:owner_id", jobHandler.PendingRetry)
	}

	eventHandler := handlers.NewEventHandler(c.Events)
	router.GET("/events", eventHandler.List)

	healthHandler := handlers.NewHealthHandler(c.Backend, c.Health, c.GPU, c.Queue.Depth)
	router.GET("/health", healthHandler.Health)
	router.GET("/gpu-check", healthHandler.GPUCheck)
}
