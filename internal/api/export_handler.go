package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/iaprender-user-sync/internal/validation"
	"github.com/rs/zerolog"
)

// ExportHandler handles export endpoints
type ExportHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewExportHandler creates a new ExportHandler
func NewExportHandler(services *service.Services, log zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		services: services,
		log:      log.With().Str("handler", "export").Logger(),
	}
}

// StreamUsers handles GET /v1/users/export?format=...
// Streams the synchronized users directly to the response
func (h *ExportHandler) StreamUsers(c *gin.Context) {
	format := c.DefaultQuery("format", "ndjson")
	if errs := validation.ValidateExportFormat(format); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs[0].Message})
		return
	}

	h.log.Info().Str("format", format).Msg("Starting user export")

	if err := h.services.Export.StreamUsers(c.Request.Context(), c.Writer, format); err != nil {
		// Can't return error JSON after streaming has started
		h.log.Error().Err(err).Str("format", format).Msg("Export failed")
	}
}
