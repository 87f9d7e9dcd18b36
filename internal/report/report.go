// Package report archives finished sync runs.
package report

import (
	"context"
	"time"

	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/rs/zerolog"
)

// Archiver stores a finished run and its errors, returning where it went
type Archiver interface {
	Archive(ctx context.Context, run *models.SyncRun, errs []models.SyncError) (string, error)
}

// Document is the archived JSON body
type Document struct {
	Run        *models.SyncRun    `json:"run"`
	Errors     []models.SyncError `json:"errors"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// Nop discards reports
type Nop struct{}

// Archive implements Archiver
func (Nop) Archive(context.Context, *models.SyncRun, []models.SyncError) (string, error) {
	return "", nil
}

// New returns an S3 archiver when a report bucket is configured and Nop otherwise
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Archiver, error) {
	if !cfg.ReportEnabled() {
		return Nop{}, nil
	}
	archiver, err := NewS3Archiver(ctx, &cfg.Report, cfg.Directory.Region, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("bucket", cfg.Report.S3Bucket).Msg("Run reports will be archived to S3")
	return archiver, nil
}
