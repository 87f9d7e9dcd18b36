package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/rs/zerolog"
)

const serviceName = "iaprender-user-sync"

// NewRouter creates and configures the Gin router
func NewRouter(services *service.Services, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware())

	// Handlers
	syncHandler := NewSyncHandler(services, log)
	statusHandler := NewStatusHandler(services, log)
	exportHandler := NewExportHandler(services, log)

	// Health check
	router.GET("/health", healthCheck)
	router.GET("/metrics", metricsHandler(services))

	// API v1
	v1 := router.Group("/v1")
	v1.Use(JWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	v1.Use(RequireRoles(cfg.Auth.AllowedRoles...))
	{
		sync := v1.Group("/sync")
		{
			sync.POST("/users", syncHandler.SyncAllUsers)
			sync.POST("/user", syncHandler.SyncSingleUser)

			sync.POST("/runs", syncHandler.CreateRun)
			sync.GET("/runs", syncHandler.ListRuns)
			sync.GET("/runs/:run_id", syncHandler.GetRun)
			sync.GET("/runs/:run_id/errors", syncHandler.GetRunErrors)

			sync.GET("/statistics", statusHandler.Statistics)
			sync.GET("/connection", statusHandler.Connection)
			sync.GET("/status", statusHandler.Status)
		}

		users := v1.Group("/users")
		{
			users.GET("/export", exportHandler.StreamUsers)
		}
	}

	return router
}

// healthCheck returns the health status
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   serviceName,
	})
}

// metricsHandler returns local user and satellite counts
func metricsHandler(services *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		usersCount, _ := services.Export.GetCount(ctx)
		roleCounts, _ := services.Export.GetRoleCounts(ctx)

		c.JSON(http.StatusOK, gin.H{
			"database": gin.H{
				"users": usersCount,
				"roles": roleCounts,
			},
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// recoveryMiddleware handles panics
func recoveryMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("error", err).Msg("Panic recovered")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs requests
func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.Info()
		if statusCode >= 400 {
			event = log.Warn()
		}
		if statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Str("triggered_by", c.GetString(ctxTriggeredBy)).
			Msg("Request completed")
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
