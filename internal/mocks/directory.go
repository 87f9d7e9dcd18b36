package mocks

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/iaprender-user-sync/internal/directory"
	"github.com/iaprender-user-sync/internal/models"
)

// MockDirectory is an in-memory Directory
type MockDirectory struct {
	mu sync.Mutex

	Records []*models.IdentityRecord
	Groups  map[string][]string

	// EnumerateErr is yielded after EnumerateErrAfter identities
	EnumerateErr      error
	EnumerateErrAfter int

	GroupErr    error
	GroupErrs   map[string]error
	GetErr      error
	Pool        *models.PoolInfo
	DescribeErr error

	ListGroupsCalls int
	Yielded         int
}

// Verify interface compliance
var _ directory.Directory = (*MockDirectory)(nil)

func NewMockDirectory(records ...*models.IdentityRecord) *MockDirectory {
	return &MockDirectory{
		Records:   records,
		Groups:    make(map[string][]string),
		GroupErrs: make(map[string]error),
		Pool:      &models.PoolInfo{ID: "us-east-1_mock", Name: "mock-pool", EstimatedUsers: len(records)},
	}
}

// Add appends an identity with its groups
func (m *MockDirectory) Add(identity *models.IdentityRecord, groups ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, identity)
	m.Groups[identity.Username] = groups
}

func (m *MockDirectory) Identities(ctx context.Context) iter.Seq2[*models.IdentityRecord, error] {
	return func(yield func(*models.IdentityRecord, error) bool) {
		m.mu.Lock()
		records := append([]*models.IdentityRecord(nil), m.Records...)
		m.mu.Unlock()

		for i, r := range records {
			if m.EnumerateErr != nil && i == m.EnumerateErrAfter {
				yield(nil, m.EnumerateErr)
				return
			}
			m.mu.Lock()
			m.Yielded++
			m.mu.Unlock()
			if !yield(r, nil) {
				return
			}
		}
		if m.EnumerateErr != nil && m.EnumerateErrAfter >= len(records) {
			yield(nil, m.EnumerateErr)
		}
	}
}

func (m *MockDirectory) GetIdentity(ctx context.Context, username string) (*models.IdentityRecord, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Records {
		if r.Username == username {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", directory.ErrIdentityNotFound, username)
}

func (m *MockDirectory) ListGroups(ctx context.Context, username string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListGroupsCalls++
	if m.GroupErr != nil {
		return nil, m.GroupErr
	}
	if err := m.GroupErrs[username]; err != nil {
		return nil, err
	}
	return append([]string{}, m.Groups[username]...), nil
}

func (m *MockDirectory) Describe(ctx context.Context) (*models.PoolInfo, error) {
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}
	return m.Pool, nil
}
