package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/directory"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/report"
	"github.com/iaprender-user-sync/internal/repository"
	"github.com/rs/zerolog"
)

var (
	// ErrRunNotFound is returned for an unknown run id
	ErrRunNotFound = errors.New("sync run not found")
	// ErrEnumeration wraps a failure to list the directory
	ErrEnumeration = errors.New("directory enumeration failed")
	// ErrInvalidRequest wraps a malformed run request
	ErrInvalidRequest = errors.New("invalid run request")
)

// SyncService runs the directory to database pipeline
type SyncService interface {
	SyncAll(ctx context.Context, onError func(models.SyncError)) (*models.SyncSummary, error)
	SyncUser(ctx context.Context, username string) (*models.UserSyncResult, error)
	Statistics(ctx context.Context) (*models.SyncStatistics, error)
	TestConnection(ctx context.Context) *models.ConnectionStatus
	Status(ctx context.Context) *models.ServiceStatus
}

// RunService records sync runs and executes them inline or in the background
type RunService interface {
	RunNow(ctx context.Context, req *models.RunRequest) (*models.RunResponse, bool, error)
	Enqueue(ctx context.Context, req *models.RunRequest) (*models.SyncRun, bool, error)
	StartProcessor(ctx context.Context)
	StopProcessor()
	GetRun(ctx context.Context, id string) (*models.RunResponse, error)
	GetRunErrors(ctx context.Context, id string) ([]models.SyncError, error)
	ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

// ExportService defines the interface for export operations
type ExportService interface {
	StreamUsers(ctx context.Context, w http.ResponseWriter, format string) error
	GetCount(ctx context.Context) (int, error)
	GetRoleCounts(ctx context.Context) (map[models.RoleTag]int, error)
}

// Services holds all service interfaces
type Services struct {
	Sync   SyncService
	Run    RunService
	Export ExportService
}

// NewServices creates all services
func NewServices(repos *repository.Repositories, dir directory.Directory, archiver report.Archiver, cfg *config.Config, log zerolog.Logger) *Services {
	syncSvc := NewSyncService(dir, repos.User, cfg, log)

	return &Services{
		Sync:   syncSvc,
		Run:    NewRunService(repos.SyncRun, syncSvc, archiver, &cfg.Sync, log),
		Export: NewExportService(repos.User, log),
	}
}
