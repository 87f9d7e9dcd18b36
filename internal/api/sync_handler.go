package api

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/iaprender-user-sync/internal/directory"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/iaprender-user-sync/internal/validation"
	"github.com/rs/zerolog"
)

// SyncHandler handles the sync trigger and run endpoints
type SyncHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(services *service.Services, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		services: services,
		log:      log.With().Str("handler", "sync").Logger(),
	}
}

// singleUserRequest accepts both the current and the legacy field name
type singleUserRequest struct {
	Username        string `json:"username"`
	CognitoUsername string `json:"cognitoUsername"`
}

func (r *singleUserRequest) username() string {
	if r.Username != "" {
		return r.Username
	}
	return r.CognitoUsername
}

// SyncAllUsers handles POST /v1/sync/users
// Runs a bulk sync inline and returns its summary
func (h *SyncHandler) SyncAllUsers(c *gin.Context) {
	req := &models.RunRequest{
		Mode:           models.RunModeBulk,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		TriggeredBy:    c.GetString(ctxTriggeredBy),
	}
	if errs := validation.ValidateIdempotencyKey(req.IdempotencyKey); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	// A started run finishes even if the caller goes away
	ctx := context.WithoutCancel(c.Request.Context())

	resp, existing, err := h.services.Run.RunNow(ctx, req)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrEnumeration) && resp != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run": resp})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("Bulk sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}

	if existing {
		h.log.Info().Str("run_id", resp.ID).Msg("Returning existing run for idempotency key")
	}
	c.JSON(http.StatusOK, resp)
}

// SyncSingleUser handles POST /v1/sync/user
func (h *SyncHandler) SyncSingleUser(c *gin.Context) {
	var req singleUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	username := req.username()
	if errs := validation.ValidateUsername(username); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	result, err := h.services.Sync.SyncUser(c.Request.Context(), username)
	if err != nil {
		stage := service.StageOf(err)
		if errors.Is(err, directory.ErrIdentityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user not found in directory", "stage": stage})
			return
		}
		h.log.Error().Err(err).Str("username", username).Str("stage", stage).Msg("Single user sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "stage": stage})
		return
	}

	c.JSON(http.StatusOK, result)
}

// CreateRun handles POST /v1/sync/runs
// Queues a run for the background processor
func (h *SyncHandler) CreateRun(c *gin.Context) {
	var req models.RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	req.TriggeredBy = c.GetString(ctxTriggeredBy)

	if errs := validation.ValidateRunRequest(&req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	run, existing, err := h.services.Run.Enqueue(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("Failed to create sync run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create sync run"})
		return
	}

	if existing {
		c.JSON(http.StatusOK, run)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// ListRuns handles GET /v1/sync/runs?limit=
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.services.Run.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list sync runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sync runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /v1/sync/runs/:run_id
func (h *SyncHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")
	if errs := validation.ValidateRunID(runID); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id format"})
		return
	}

	resp, err := h.services.Run.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.runError(c, runID, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetRunErrors handles GET /v1/sync/runs/:run_id/errors
// Returns all errors, as JSON or as CSV with ?format=csv
func (h *SyncHandler) GetRunErrors(c *gin.Context) {
	runID := c.Param("run_id")
	if errs := validation.ValidateRunID(runID); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id format"})
		return
	}

	runErrors, err := h.services.Run.GetRunErrors(c.Request.Context(), runID)
	if err != nil {
		h.runError(c, runID, err)
		return
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename=sync_errors_"+runID+".csv")

		writer := csv.NewWriter(c.Writer)
		writer.Write([]string{"external_id", "username", "stage", "message"})
		for _, e := range runErrors {
			writer.Write([]string{e.ExternalID, e.Username, e.Stage, e.Message})
		}
		writer.Flush()
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"errors": runErrors,
		"count":  len(runErrors),
	})
}

func (h *SyncHandler) runError(c *gin.Context, runID string, err error) {
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
		return
	}
	h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get sync run")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get sync run"})
}
