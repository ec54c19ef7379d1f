package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service authenticates principals and loads their profiles.
type Service struct {
	repo   Repository
	hasher Hasher
	tokens *TokenIssuer
	now    func() time.Time
	// decoy is compared against on rejections that never reach a stored
	// hash, so they cost the same bcrypt work as a wrong password.
	decoy string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(repo Repository, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("auth repository is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	svc := &Service{
		repo:   repo,
		hasher: NewBcryptHasher(),
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	decoy, err := svc.hasher.Hash("edudesk-decoy-password")
	if err != nil {
		return nil, fmt.Errorf("hash decoy password: %w", err)
	}
	svc.decoy = decoy
	return svc, nil
}

// SignInResult is returned by the sign-in operations.
type SignInResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Profile   Profile   `json:"data"`
}

// SignInSuper authenticates a super-admin.
func (s *Service) SignInSuper(ctx context.Context, email, password string) (SignInResult, error) {
	p, err := s.lookup(ctx, KindSuper, email, password)
	if err != nil {
		return SignInResult{}, err
	}
	if err := s.checkAccount(p, password); err != nil {
		return SignInResult{}, err
	}
	return s.issue(p)
}

// SignInAdmin authenticates a user holding the admin role. An email that is
// also provisioned as a super-admin is refused on this path.
func (s *Service) SignInAdmin(ctx context.Context, email, password string) (SignInResult, error) {
	p, err := s.lookup(ctx, KindUser, email, password)
	if err != nil {
		return SignInResult{}, err
	}
	if p.IsDeleted {
		return SignInResult{}, s.reject(password)
	}
	if p.Role == nil || p.Role.Name != RoleAdmin {
		return SignInResult{}, s.reject(password)
	}
	_, err = s.repo.FindByEmail(ctx, KindSuper, NormalizeEmail(email))
	switch {
	case err == nil:
		return SignInResult{}, s.reject(password)
	case !errors.Is(err, ErrNotFound):
		return SignInResult{}, fmt.Errorf("lookup super admin: %w", err)
	}
	if err := s.checkAccount(p, password); err != nil {
		return SignInResult{}, err
	}
	return s.issue(p)
}

// SignIn authenticates a user of any role.
func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	p, err := s.lookup(ctx, KindUser, email, password)
	if err != nil {
		return SignInResult{}, err
	}
	if err := s.checkAccount(p, password); err != nil {
		return SignInResult{}, err
	}
	return s.issue(p)
}

func (s *Service) lookup(ctx context.Context, kind PrincipalKind, email, password string) (*Principal, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, s.reject(password)
	}
	p, err := s.repo.FindByEmail(ctx, kind, email)
	if errors.Is(err, ErrNotFound) {
		return nil, s.reject(password)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", kind, err)
	}
	return p, nil
}

// checkAccount runs the deleted, active and password gates in order.
func (s *Service) checkAccount(p *Principal, password string) error {
	if p.IsDeleted {
		return s.reject(password)
	}
	if !p.IsActive {
		return errAccountSuspended
	}
	if password == "" || !s.hasher.Verify(password, p.PasswordHash) {
		return errInvalidCredentials
	}
	return nil
}

// reject burns one hash comparison and returns the uniform credentials error.
func (s *Service) reject(password string) error {
	s.hasher.Verify(password, s.decoy)
	return errInvalidCredentials
}

func (s *Service) issue(p *Principal) (SignInResult, error) {
	token, exp, err := s.tokens.Issue(p.ID, p.Kind)
	if err != nil {
		return SignInResult{}, err
	}
	return SignInResult{Token: token, ExpiresAt: exp, Profile: ProfileOf(p)}, nil
}

// Authenticate verifies a bearer token and re-resolves its principal, so a
// deactivated or deleted account is refused even with a valid signature.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	p, err := s.repo.FindByID(ctx, claims.Type, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, errInvalidToken
	}
	if err != nil {
		return Identity{}, fmt.Errorf("resolve principal: %w", err)
	}
	if p.IsDeleted || !p.IsActive {
		return Identity{}, errInvalidToken
	}
	return NewIdentity(p), nil
}

// Profile loads the principal identified by (kind, id).
func (s *Service) Profile(ctx context.Context, kind PrincipalKind, id string) (Profile, error) {
	p, err := s.find(ctx, kind, id)
	if err != nil {
		return Profile{}, err
	}
	return ProfileOf(p), nil
}

// UserDetails loads a user by id.
func (s *Service) UserDetails(ctx context.Context, id string) (Profile, error) {
	return s.Profile(ctx, KindUser, id)
}

func (s *Service) find(ctx context.Context, kind PrincipalKind, id string) (*Principal, error) {
	id = strings.TrimSpace(id)
	if !kind.Valid() {
		return nil, newError(ErrInvalidInput, "unknown principal type")
	}
	if id == "" {
		return nil, notFound(kind)
	}
	p, err := s.repo.FindByID(ctx, kind, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	return p, nil
}

func notFound(kind PrincipalKind) *Error {
	if kind == KindSuper {
		return newError(ErrNotFound, "Super admin not found")
	}
	return newError(ErrNotFound, "User not found")
}

// UpdatePassword replaces the password after verifying the current one.
func (s *Service) UpdatePassword(ctx context.Context, kind PrincipalKind, id, oldPassword, newPassword string) error {
	p, err := s.find(ctx, kind, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(oldPassword, p.PasswordHash) {
		return errInvalidOldPassword
	}
	if newPassword == "" {
		return newError(ErrInvalidInput, "New password is required")
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	if _, err := s.repo.Update(ctx, kind, p.ID, PrincipalUpdate{PasswordHash: &hash, UpdatedAt: &now}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(kind)
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
