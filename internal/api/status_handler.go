package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/rs/zerolog"
)

// StatusHandler serves directory connectivity and sync statistics
type StatusHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(services *service.Services, log zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		services: services,
		log:      log.With().Str("handler", "status").Logger(),
	}
}

// Statistics handles GET /v1/sync/statistics
func (h *StatusHandler) Statistics(c *gin.Context) {
	stats, err := h.services.Sync.Statistics(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to gather sync statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to gather sync statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Connection handles GET /v1/sync/connection
func (h *StatusHandler) Connection(c *gin.Context) {
	status := h.services.Sync.TestConnection(c.Request.Context())
	if !status.Success {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Status handles GET /v1/sync/status
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Sync.Status(c.Request.Context()))
}
