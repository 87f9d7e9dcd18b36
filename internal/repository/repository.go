package repository

import (
	"context"

	"github.com/iaprender-user-sync/internal/database"
	"github.com/iaprender-user-sync/internal/models"
)

// UserRepository persists canonical users into users and the role tables
type UserRepository interface {
	Persist(ctx context.Context, user *models.CanonicalUser) (*models.PersistResult, error)
	Count(ctx context.Context) (int, error)
	CountByRole(ctx context.Context) (map[models.RoleTag]int, error)
	StreamAll(ctx context.Context, callback func(*models.User) error) error
}

// SyncRunRepository defines the interface for sync run bookkeeping
type SyncRunRepository interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Update(ctx context.Context, run *models.SyncRun) error
	GetByID(ctx context.Context, id string) (*models.SyncRun, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.SyncRun, error)
	List(ctx context.Context, limit int) ([]*models.SyncRun, error)
	GetPendingRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
	MarkRunAsProcessing(ctx context.Context, runID string) (bool, error)
	AddErrors(ctx context.Context, runID string, errs []models.SyncError) error
	GetErrors(ctx context.Context, runID string, limit int) ([]models.SyncError, error)
	CountErrors(ctx context.Context, runID string) (int, error)
}

// Repositories holds all repository interfaces
type Repositories struct {
	User    UserRepository
	SyncRun SyncRunRepository
}

// New creates all repositories with the given database connection
func New(db *database.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepo(db),
		SyncRun: NewSyncRunRepo(db),
	}
}
