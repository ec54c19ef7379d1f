package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProvisionStore creates the records the auth core reads. Account
// administration proper lives outside this service; provisioning exists for
// seeds and bootstrap.
type ProvisionStore interface {
	CreatePrincipal(ctx context.Context, p Principal) (*Principal, error)
	EnsureRole(ctx context.Context, name string, permissions []string) (*Role, error)
	EnsureSchool(ctx context.Context, name string) (*School, error)
}

// NewAccount describes a principal to provision.
type NewAccount struct {
	Kind     PrincipalKind
	Email    string
	Name     string
	Password string
	// Role and School are names. School is ignored for super-admins.
	Role   string
	School string
	// Inactive provisions a suspended account.
	Inactive bool
}

// Provisioner validates and stores new principals and roles.
type Provisioner struct {
	store  ProvisionStore
	hasher Hasher
}

func NewProvisioner(store ProvisionStore, hasher Hasher) (*Provisioner, error) {
	if store == nil {
		return nil, errors.New("provision store is required")
	}
	if hasher == nil {
		hasher = NewBcryptHasher()
	}
	return &Provisioner{store: store, hasher: hasher}, nil
}

// EnsureRole creates or updates a role with the given permission names.
func (p *Provisioner) EnsureRole(ctx context.Context, name string, permissions []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return p.store.EnsureRole(ctx, name, dedupeStrings(permissions))
}

// CreateAccount hashes the password and stores the principal.
func (p *Provisioner) CreateAccount(ctx context.Context, acc NewAccount) (*Principal, error) {
	if !acc.Kind.Valid() {
		return nil, fmt.Errorf("%w: unsupported principal type %q", ErrInvalidInput, acc.Kind)
	}
	email := NormalizeEmail(acc.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(acc.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(acc.Password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := p.hasher.Hash(acc.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	rec := Principal{
		Kind:         acc.Kind,
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsActive:     !acc.Inactive,
	}
	if role := strings.TrimSpace(acc.Role); role != "" {
		rec.Role = &Role{Name: role}
	}
	if acc.Kind == KindUser {
		if school := strings.TrimSpace(acc.School); school != "" {
			sc, err := p.store.EnsureSchool(ctx, school)
			if err != nil {
				return nil, fmt.Errorf("ensure school: %w", err)
			}
			rec.School = sc
		}
	}
	return p.store.CreatePrincipal(ctx, rec)
}

// Bootstrap ensures the platform_admin role and a super-admin holding it.
// It reports false when an account with email already exists.
func (p *Provisioner) Bootstrap(ctx context.Context, email, name, password string) (bool, error) {
	if _, err := p.EnsureRole(ctx, RolePlatformAdmin, BuiltinPermissions); err != nil {
		return false, fmt.Errorf("ensure %s role: %w", RolePlatformAdmin, err)
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	_, err := p.CreateAccount(ctx, NewAccount{
		Kind:     KindSuper,
		Email:    email,
		Name:     name,
		Password: password,
		Role:     RolePlatformAdmin,
	})
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
