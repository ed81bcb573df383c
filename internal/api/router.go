package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/api/handlers"
	"github.com/jafarshop/erpsync/internal/api/middleware"
	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/metrics"
	"github.com/jafarshop/erpsync/internal/repository"
)

// Dependencies are the services the HTTP surface exposes
type Dependencies struct {
	Repos     *repository.Repositories
	Syncer    handlers.Syncer
	Endpoints handlers.EndpointDirectory
	Health    handlers.HealthChecker
	Registry  *prometheus.Registry
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Registry)))
	}

	// API v1 routes
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.API.KeyHash, logger))
	{
		v1.GET("/orders/:id", handlers.HandleGetOrder(deps.Repos, logger))
		v1.GET("/orders/:id/events", handlers.HandleListOrderEvents(deps.Repos, logger))
		v1.POST("/orders/:id/sync", handlers.HandleSyncOrder(cfg, deps.Syncer, logger))
		v1.GET("/endpoints", handlers.HandleListEndpoints(deps.Endpoints, deps.Health))
		v1.POST("/endpoints/:id/probe", handlers.HandleProbeEndpoint(deps.Endpoints, deps.Health, logger))
	}

	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
