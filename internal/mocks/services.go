package mocks

import (
	"context"
	"net/http"
	"sync"

	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/report"
	"github.com/iaprender-user-sync/internal/service"
)

// MockSyncService is a mock implementation of SyncService
type MockSyncService struct {
	SyncAllFunc        func(ctx context.Context, onError func(models.SyncError)) (*models.SyncSummary, error)
	SyncUserFunc       func(ctx context.Context, username string) (*models.UserSyncResult, error)
	StatisticsFunc     func(ctx context.Context) (*models.SyncStatistics, error)
	TestConnectionFunc func(ctx context.Context) *models.ConnectionStatus
	StatusFunc         func(ctx context.Context) *models.ServiceStatus
	SyncedUsers        []string
}

// Verify interface compliance
var _ service.SyncService = (*MockSyncService)(nil)

func NewMockSyncService() *MockSyncService {
	return &MockSyncService{}
}

func (m *MockSyncService) SyncAll(ctx context.Context, onError func(models.SyncError)) (*models.SyncSummary, error) {
	if m.SyncAllFunc != nil {
		return m.SyncAllFunc(ctx, onError)
	}
	return &models.SyncSummary{}, nil
}

func (m *MockSyncService) SyncUser(ctx context.Context, username string) (*models.UserSyncResult, error) {
	m.SyncedUsers = append(m.SyncedUsers, username)
	if m.SyncUserFunc != nil {
		return m.SyncUserFunc(ctx, username)
	}
	return &models.UserSyncResult{
		Success:  true,
		Username: username,
		Role:     models.RoleStudent,
		Status:   models.StatusActive,
		Groups:   []string{},
	}, nil
}

func (m *MockSyncService) Statistics(ctx context.Context) (*models.SyncStatistics, error) {
	if m.StatisticsFunc != nil {
		return m.StatisticsFunc(ctx)
	}
	return &models.SyncStatistics{RoleCounts: map[models.RoleTag]int{}}, nil
}

func (m *MockSyncService) TestConnection(ctx context.Context) *models.ConnectionStatus {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx)
	}
	return &models.ConnectionStatus{Success: true, Message: "connected to user pool mock-pool"}
}

func (m *MockSyncService) Status(ctx context.Context) *models.ServiceStatus {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &models.ServiceStatus{
		Status:     service.StatusHealthy,
		Connection: m.TestConnection(ctx),
	}
}

// MockRunService is a mock implementation of RunService
type MockRunService struct {
	RunNowFunc       func(ctx context.Context, req *models.RunRequest) (*models.RunResponse, bool, error)
	EnqueueFunc      func(ctx context.Context, req *models.RunRequest) (*models.SyncRun, bool, error)
	GetRunFunc       func(ctx context.Context, id string) (*models.RunResponse, error)
	GetRunErrorsFunc func(ctx context.Context, id string) ([]models.SyncError, error)
	ListRunsFunc     func(ctx context.Context, limit int) ([]*models.SyncRun, error)
	Requests         []*models.RunRequest
	Started          bool
}

// Verify interface compliance
var _ service.RunService = (*MockRunService)(nil)

func NewMockRunService() *MockRunService {
	return &MockRunService{}
}

func (m *MockRunService) RunNow(ctx context.Context, req *models.RunRequest) (*models.RunResponse, bool, error) {
	m.Requests = append(m.Requests, req)
	if m.RunNowFunc != nil {
		return m.RunNowFunc(ctx, req)
	}
	return &models.RunResponse{SyncRun: models.SyncRun{
		ID:     "test-run-id",
		Mode:   models.RunModeBulk,
		Status: models.RunStatusCompleted,
	}}, false, nil
}

func (m *MockRunService) Enqueue(ctx context.Context, req *models.RunRequest) (*models.SyncRun, bool, error) {
	m.Requests = append(m.Requests, req)
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, req)
	}
	return &models.SyncRun{
		ID:     "test-run-id",
		Mode:   req.Mode,
		Target: req.Username,
		Status: models.RunStatusPending,
	}, false, nil
}

func (m *MockRunService) StartProcessor(ctx context.Context) { m.Started = true }

func (m *MockRunService) StopProcessor() { m.Started = false }

func (m *MockRunService) GetRun(ctx context.Context, id string) (*models.RunResponse, error) {
	if m.GetRunFunc != nil {
		return m.GetRunFunc(ctx, id)
	}
	return nil, service.ErrRunNotFound
}

func (m *MockRunService) GetRunErrors(ctx context.Context, id string) ([]models.SyncError, error) {
	if m.GetRunErrorsFunc != nil {
		return m.GetRunErrorsFunc(ctx, id)
	}
	return nil, service.ErrRunNotFound
}

func (m *MockRunService) ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if m.ListRunsFunc != nil {
		return m.ListRunsFunc(ctx, limit)
	}
	return []*models.SyncRun{}, nil
}

// MockExportService is a mock implementation of ExportService
type MockExportService struct {
	StreamUsersFunc func(ctx context.Context, w http.ResponseWriter, format string) error
	Count           int
	RoleCounts      map[models.RoleTag]int
}

// Verify interface compliance
var _ service.ExportService = (*MockExportService)(nil)

func NewMockExportService() *MockExportService {
	return &MockExportService{RoleCounts: make(map[models.RoleTag]int)}
}

func (m *MockExportService) StreamUsers(ctx context.Context, w http.ResponseWriter, format string) error {
	if m.StreamUsersFunc != nil {
		return m.StreamUsersFunc(ctx, w, format)
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	return nil
}

func (m *MockExportService) GetCount(ctx context.Context) (int, error) {
	return m.Count, nil
}

func (m *MockExportService) GetRoleCounts(ctx context.Context) (map[models.RoleTag]int, error) {
	return m.RoleCounts, nil
}

// MockArchiver records archived runs
type MockArchiver struct {
	mu       sync.Mutex
	URL      string
	Err      error
	Archived []*models.SyncRun
}

// Verify interface compliance
var _ report.Archiver = (*MockArchiver)(nil)

func (m *MockArchiver) Archive(ctx context.Context, run *models.SyncRun, errs []models.SyncError) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	cp := *run
	m.Archived = append(m.Archived, &cp)
	return m.URL, nil
}
