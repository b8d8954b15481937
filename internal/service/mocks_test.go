package service

import (
	"context"
	"sync"
	"time"

	"github.com/teslaelectricidad/teslabot/internal/automation"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	"github.com/teslaelectricidad/teslabot/internal/repository"
)

// MockLeadSubmitter is a mock implementation of LeadSubmitter for testing.
type MockLeadSubmitter struct {
	mu sync.Mutex

	LeadID      string
	SubmitError error

	SubmitCalls int
	Last        domain.ContactSubmission
}

func (m *MockLeadSubmitter) SubmitContact(ctx context.Context, sub domain.ContactSubmission) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubmitCalls++
	m.Last = sub
	if m.SubmitError != nil {
		return "", m.SubmitError
	}
	return m.LeadID, nil
}

// MockLeadRepository is a mock implementation of domain.LeadRepository for testing.
type MockLeadRepository struct {
	mu    sync.RWMutex
	leads map[string]*domain.Lead
	order []string

	CreateCalls int
	CreateError error
}

func NewMockLeadRepository() *MockLeadRepository {
	return &MockLeadRepository{leads: make(map[string]*domain.Lead)}
}

func (m *MockLeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateError != nil {
		return m.CreateError
	}
	copied := *lead
	m.leads[lead.ID] = &copied
	m.order = append(m.order, lead.ID)
	return nil
}

func (m *MockLeadRepository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if lead, ok := m.leads[id]; ok {
		return lead, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockLeadRepository) ListRecent(ctx context.Context, limit, offset int) ([]*domain.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Lead
	for i := len(m.order) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.leads[m.order[i]])
	}
	return result, nil
}

func (m *MockLeadRepository) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.leads), nil
}

func (m *MockLeadRepository) UpdateStatus(ctx context.Context, id string, status domain.LeadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.Status = status
	return nil
}

func (m *MockLeadRepository) CountByService(ctx context.Context, from, to time.Time) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, lead := range m.leads {
		if !lead.CreatedAt.Before(from) && lead.CreatedAt.Before(to) {
			counts[lead.Service]++
		}
	}
	return counts, nil
}

// MockDispatcher records jobs. When Release is set, Dispatch blocks until it
// is closed.
type MockDispatcher struct {
	mu      sync.Mutex
	Jobs    []automation.Job
	Release chan struct{}
	ctxErr  []error
}

func (m *MockDispatcher) Dispatch(ctx context.Context, job automation.Job) []domain.Outcome {
	if m.Release != nil {
		<-m.Release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs = append(m.Jobs, job)
	m.ctxErr = append(m.ctxErr, ctx.Err())
	return nil
}

func (m *MockDispatcher) jobs() []automation.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]automation.Job(nil), m.Jobs...)
}

func (m *MockDispatcher) contextErrors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.ctxErr...)
}
