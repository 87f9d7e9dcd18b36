package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/repository"
)

// satelliteKey identifies one role table row
type satelliteKey struct {
	UserID int64
	OrgID  int64
	HasOrg bool
}

// MockUserRepository is an in-memory UserRepository that follows the same
// upsert and role table rules as the SQL implementation
type MockUserRepository struct {
	mu sync.Mutex

	Users      map[string]*models.User // by external id
	Satellites map[models.RoleTag]map[satelliteKey]bool

	PersistErr   error
	PersistErrs  map[string]error // by external id
	CountErr     error
	PersistCalls int

	nextID int64
}

// Verify interface compliance
var _ repository.UserRepository = (*MockUserRepository)(nil)

func NewMockUserRepository() *MockUserRepository {
	sat := make(map[models.RoleTag]map[satelliteKey]bool)
	for _, r := range models.SatelliteRoles {
		sat[r] = make(map[satelliteKey]bool)
	}
	return &MockUserRepository{
		Users:       make(map[string]*models.User),
		Satellites:  sat,
		PersistErrs: make(map[string]error),
	}
}

func (m *MockUserRepository) Persist(ctx context.Context, u *models.CanonicalUser) (*models.PersistResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PersistCalls++
	if m.PersistErr != nil {
		return nil, m.PersistErr
	}
	if err := m.PersistErrs[u.ExternalID]; err != nil {
		return nil, err
	}

	now := time.Now()
	res := &models.PersistResult{Role: u.Role}

	row, exists := m.Users[u.ExternalID]
	if exists {
		res.PreviousRole = row.Role
		if u.PreserveRole {
			res.Role = row.Role
		}
	} else {
		m.nextID++
		row = &models.User{ID: m.nextID, ExternalID: u.ExternalID, CreatedAt: now}
		m.Users[u.ExternalID] = row
		res.Created = true
	}

	row.Username = u.Username
	row.Email = u.Email
	row.DisplayName = u.DisplayName
	row.Role = res.Role
	row.Status = u.Status
	row.OrganizationID = u.OrganizationID
	row.UpdatedAt = now
	res.UserID = row.ID

	if res.PreviousRole != "" && res.PreviousRole != res.Role {
		res.RoleChanged = true
		for key := range m.Satellites[res.PreviousRole] {
			if key.UserID == row.ID {
				delete(m.Satellites[res.PreviousRole], key)
			}
		}
	}

	if res.Role.HasSatellite() {
		key := satelliteKey{UserID: row.ID}
		if u.OrganizationID != nil {
			key.OrgID, key.HasOrg = *u.OrganizationID, true
		}
		m.Satellites[res.Role][key] = true
	}

	return res, nil
}

func (m *MockUserRepository) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return len(m.Users), nil
}

func (m *MockUserRepository) CountByRole(ctx context.Context) (map[models.RoleTag]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return nil, m.CountErr
	}

	counts := map[models.RoleTag]int{models.RoleAdmin: 0}
	for _, u := range m.Users {
		if u.Role == models.RoleAdmin {
			counts[models.RoleAdmin]++
		}
	}
	for role, rows := range m.Satellites {
		counts[role] = len(rows)
	}
	return counts, nil
}

func (m *MockUserRepository) StreamAll(ctx context.Context, callback func(*models.User) error) error {
	m.mu.Lock()
	rows := make([]*models.User, 0, len(m.Users))
	for _, u := range m.Users {
		cp := *u
		rows = append(rows, &cp)
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	for _, u := range rows {
		if err := callback(u); err != nil {
			return err
		}
	}
	return nil
}

// SatelliteRows returns how many role rows userID has for role
func (m *MockUserRepository) SatelliteRows(role models.RoleTag, userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.Satellites[role] {
		if key.UserID == userID {
			n++
		}
	}
	return n
}

// MockSyncRunRepository is an in-memory SyncRunRepository
type MockSyncRunRepository struct {
	mu sync.Mutex

	Runs        map[string]*models.SyncRun
	Errors      map[string][]models.SyncError
	CreateErr   error
	AddErrCalls int
	UpdateCalls int
}

// Verify interface compliance
var _ repository.SyncRunRepository = (*MockSyncRunRepository)(nil)

func NewMockSyncRunRepository() *MockSyncRunRepository {
	return &MockSyncRunRepository{
		Runs:   make(map[string]*models.SyncRun),
		Errors: make(map[string][]models.SyncError),
	}
}

func (m *MockSyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	cp := *run
	m.Runs[run.ID] = &cp
	return nil
}

func (m *MockSyncRunRepository) Update(ctx context.Context, run *models.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	cp := *run
	m.Runs[run.ID] = &cp
	return nil
}

func (m *MockSyncRunRepository) GetByID(ctx context.Context, id string) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.Runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *MockSyncRunRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.Runs {
		if run.IdempotencyKey == key {
			cp := *run
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockSyncRunRepository) sorted(filter func(*models.SyncRun) bool) []*models.SyncRun {
	var runs []*models.SyncRun
	for _, run := range m.Runs {
		if filter(run) {
			cp := *run
			runs = append(runs, &cp)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs
}

func (m *MockSyncRunRepository) List(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.sorted(func(*models.SyncRun) bool { return true })
	// newest first
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MockSyncRunRepository) GetPendingRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.sorted(func(r *models.SyncRun) bool { return r.Status == models.RunStatusPending })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MockSyncRunRepository) MarkRunAsProcessing(ctx context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.Runs[runID]
	if !ok || run.Status != models.RunStatusPending {
		return false, nil
	}
	now := time.Now()
	run.Status = models.RunStatusProcessing
	run.StartedAt = &now
	return true, nil
}

func (m *MockSyncRunRepository) AddErrors(ctx context.Context, runID string, errs []models.SyncError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddErrCalls++
	m.Errors[runID] = append(m.Errors[runID], errs...)
	return nil
}

func (m *MockSyncRunRepository) GetErrors(ctx context.Context, runID string, limit int) ([]models.SyncError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := append([]models.SyncError(nil), m.Errors[runID]...)
	if limit > 0 && len(errs) > limit {
		errs = errs[:limit]
	}
	return errs, nil
}

func (m *MockSyncRunRepository) CountErrors(ctx context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors[runID]), nil
}

// Status returns the stored status of a run
func (m *MockSyncRunRepository) Status(runID string) models.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.Runs[runID]; ok {
		return run.Status
	}
	return ""
}
