package school

import (
	"context"
	"sort"
	"sync"
	"time"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	schools map[string]*School
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schools: map[string]*School{}}
}

func (m *MemoryStore) InsertSchool(_ context.Context, s School) (*School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schools {
		if s.RegistrationNumber != "" && existing.RegistrationNumber == s.RegistrationNumber {
			return nil, auth.ErrConflict
		}
	}
	if s.ID == "" {
		at := s.CreatedAt
		if at.IsZero() {
			at = time.Now()
		}
		s.ID = ids.NewAt(at)
	}
	if _, ok := m.schools[s.ID]; ok {
		return nil, auth.ErrConflict
	}
	stored := copySchool(s)
	m.schools[s.ID] = &stored
	out := copySchool(stored)
	return &out, nil
}

func (m *MemoryStore) ListSchools(_ context.Context) ([]School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]School, 0, len(m.schools))
	for _, s := range m.schools {
		if s.IsDeleted {
			continue
		}
		out = append(out, copySchool(*s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetSchool(_ context.Context, id string) (*School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schools[id]
	if !ok || s.IsDeleted {
		return nil, auth.ErrNotFound
	}
	out := copySchool(*s)
	return &out, nil
}

func (m *MemoryStore) FindSchoolByRegistration(_ context.Context, reg string) (*School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schools {
		if reg != "" && s.RegistrationNumber == reg {
			out := copySchool(*s)
			return &out, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *MemoryStore) UpdateSchool(_ context.Context, s School) (*School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.schools[s.ID]
	if !ok || cur.IsDeleted {
		return nil, auth.ErrNotFound
	}
	for id, other := range m.schools {
		if id != s.ID && s.RegistrationNumber != "" && other.RegistrationNumber == s.RegistrationNumber {
			return nil, auth.ErrConflict
		}
	}
	s.CreatedAt = cur.CreatedAt
	s.IsDeleted = false
	stored := copySchool(s)
	m.schools[s.ID] = &stored
	out := copySchool(stored)
	return &out, nil
}

func (m *MemoryStore) DeleteSchool(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schools[id]
	if !ok || s.IsDeleted {
		return auth.ErrNotFound
	}
	s.IsDeleted = true
	s.UpdatedAt = at
	return nil
}

func copySchool(s School) School {
	if s.EstablishedYear != nil {
		year := *s.EstablishedYear
		s.EstablishedYear = &year
	}
	return s
}
