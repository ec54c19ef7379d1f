package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"edudesk.io/internal/ids"
)

var (
	_ Repository     = (*MemoryStore)(nil)
	_ ProvisionStore = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Repository used by tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	stores  map[PrincipalKind]map[string]*Principal
	roles   map[string]*Role
	schools map[string]*School
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now: time.Now,
		stores: map[PrincipalKind]map[string]*Principal{
			KindSuper: {},
			KindUser:  {},
		},
		roles:   map[string]*Role{},
		schools: map[string]*School{},
	}
}

func (s *MemoryStore) table(kind PrincipalKind) (map[string]*Principal, error) {
	t, ok := s.stores[kind]
	if !ok {
		return nil, newError(ErrInvalidInput, "unknown principal type")
	}
	return t, nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, kind PrincipalKind, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	for _, p := range t {
		if p.Email == email {
			return s.view(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByID(_ context.Context, kind PrincipalKind, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	p, ok := t[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.view(p), nil
}

func (s *MemoryStore) FindByResetToken(_ context.Context, kind PrincipalKind, token string, now time.Time) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	if p := ticketHolder(t, token, now); p != nil {
		return s.view(p), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, kind PrincipalKind, id string, upd PrincipalUpdate) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	p, ok := t[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.PasswordHash != nil {
		p.PasswordHash = *upd.PasswordHash
	}
	if upd.ResetToken != nil {
		token := *upd.ResetToken
		p.ResetToken = &token
	}
	if upd.ResetTokenExpiry != nil {
		exp := *upd.ResetTokenExpiry
		p.ResetTokenExpiry = &exp
	}
	if upd.ClearResetTicket {
		p.ResetToken = nil
		p.ResetTokenExpiry = nil
	}
	if upd.UpdatedAt != nil {
		p.UpdatedAt = *upd.UpdatedAt
	} else {
		p.UpdatedAt = s.now().UTC()
	}
	return s.view(p), nil
}

func (s *MemoryStore) RedeemResetTicket(_ context.Context, kind PrincipalKind, token string, now time.Time, passwordHash string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	p := ticketHolder(t, token, now)
	if p == nil {
		return nil, ErrNotFound
	}
	p.PasswordHash = passwordHash
	p.ResetToken = nil
	p.ResetTokenExpiry = nil
	p.UpdatedAt = now
	return s.view(p), nil
}

func (s *MemoryStore) ClearExpiredResetTickets(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.stores {
		for _, p := range t {
			if p.ResetTokenExpiry != nil && !p.ResetTokenExpiry.After(now) {
				p.ResetToken = nil
				p.ResetTokenExpiry = nil
				n++
			}
		}
	}
	return n, nil
}

func ticketHolder(t map[string]*Principal, token string, now time.Time) *Principal {
	if token == "" {
		return nil
	}
	for _, p := range t {
		if p.ResetToken == nil || *p.ResetToken != token {
			continue
		}
		if p.ResetTokenExpiry == nil || !p.ResetTokenExpiry.After(now) {
			return nil
		}
		return p
	}
	return nil
}

// view returns a detached copy with the current role and school joined.
func (s *MemoryStore) view(p *Principal) *Principal {
	out := *p
	if p.ResetToken != nil {
		token := *p.ResetToken
		out.ResetToken = &token
	}
	if p.ResetTokenExpiry != nil {
		exp := *p.ResetTokenExpiry
		out.ResetTokenExpiry = &exp
	}
	if p.Role != nil {
		if r, ok := s.roles[p.Role.Name]; ok {
			role := *r
			role.Permissions = append([]Permission(nil), r.Permissions...)
			out.Role = &role
		}
	}
	if p.School != nil {
		if sc, ok := s.schools[p.School.ID]; ok {
			school := *sc
			out.School = &school
		}
	}
	return &out
}

// CreatePrincipal stores a new principal. Email is unique per store.
func (s *MemoryStore) CreatePrincipal(_ context.Context, p Principal) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(p.Kind)
	if err != nil {
		return nil, err
	}
	p.Email = NormalizeEmail(p.Email)
	for _, existing := range t {
		if existing.Email == p.Email {
			return nil, newError(ErrConflict, "Email already registered")
		}
	}
	if p.Role != nil {
		if _, ok := s.roles[p.Role.Name]; !ok {
			return nil, newError(ErrNotFound, "Role not found")
		}
	}
	if p.School != nil {
		if _, ok := s.schools[p.School.ID]; !ok {
			return nil, newError(ErrNotFound, "School not found")
		}
	}
	if p.ID == "" {
		p.ID = ids.NewAt(s.now())
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	stored := p
	t[p.ID] = &stored
	return s.view(&stored), nil
}

// EnsureRole creates the role if needed and replaces its permission list.
func (s *MemoryStore) EnsureRole(_ context.Context, name string, permissions []string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		role = &Role{ID: ids.NewAt(s.now()), Name: name}
		s.roles[name] = role
	}
	names := append([]string(nil), permissions...)
	sort.Strings(names)
	role.Permissions = role.Permissions[:0]
	for _, perm := range names {
		role.Permissions = append(role.Permissions, Permission{ID: perm, Name: perm})
	}
	out := *role
	out.Permissions = append([]Permission(nil), role.Permissions...)
	return &out, nil
}

// EnsureSchool returns the school with name, creating it if needed.
func (s *MemoryStore) EnsureSchool(_ context.Context, name string) (*School, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.schools {
		if strings.EqualFold(sc.Name, name) {
			out := *sc
			return &out, nil
		}
	}
	sc := &School{ID: ids.NewAt(s.now()), Name: name}
	s.schools[sc.ID] = sc
	out := *sc
	return &out, nil
}
