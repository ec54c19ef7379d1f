package school

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edudesk.io/internal/auth"
)

const minEstablishedYear = 1800

// School is a tenant profile.
type School struct {
	ID                 string    `json:"id"`
	RegistrationNumber string    `json:"registrationNumber"`
	Name               string    `json:"name"`
	Email              string    `json:"email,omitempty"`
	Website            string    `json:"website,omitempty"`
	Address            string    `json:"address,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	EstablishedYear    *int      `json:"establishedYear,omitempty"`
	IsDeleted          bool      `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// NewSchool holds the fields accepted on creation.
type NewSchool struct {
	RegistrationNumber string
	Name               string
	Email              string
	Website            string
	Address            string
	Phone              string
	EstablishedYear    *int
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	RegistrationNumber *string
	Name               *string
	Email              *string
	Website            *string
	Address            *string
	Phone              *string
	EstablishedYear    *int
}

// Store persists schools. Reads of a missing or soft-deleted school return
// auth.ErrNotFound.
type Store interface {
	InsertSchool(ctx context.Context, s School) (*School, error)
	ListSchools(ctx context.Context) ([]School, error)
	GetSchool(ctx context.Context, id string) (*School, error)
	// FindSchoolByRegistration also matches soft-deleted rows; the number
	// stays reserved after deletion.
	FindSchoolByRegistration(ctx context.Context, registrationNumber string) (*School, error)
	UpdateSchool(ctx context.Context, s School) (*School, error)
	DeleteSchool(ctx context.Context, id string, at time.Time) error
}

var (
	errSchoolNotFound     = &auth.Error{Kind: auth.ErrNotFound, Message: "School not found"}
	errRegistrationTaken  = &auth.Error{Kind: auth.ErrConflict, Message: "School with this registration number already exists"}
	errInvalidViewer      = &auth.Error{Kind: auth.ErrInvalidInput, Message: "Invalid user type"}
	errForeignSchool      = &auth.Error{Kind: auth.ErrForbidden, Message: "Unauthorized to access this school"}
	errRegistrationNeeded = &auth.Error{Kind: auth.ErrInvalidInput, Message: "Registration number is required"}
	errNameNeeded         = &auth.Error{Kind: auth.ErrInvalidInput, Message: "Name is required"}
	errEstablishedYear    = &auth.Error{Kind: auth.ErrInvalidInput, Message: fmt.Sprintf("Established year must be %d or later", minEstablishedYear)}
)

// Service manages school records.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("school store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create stores a new school. Registration numbers are unique.
func (s *Service) Create(ctx context.Context, in NewSchool) (*School, error) {
	rec := School{
		RegistrationNumber: strings.TrimSpace(in.RegistrationNumber),
		Name:               strings.TrimSpace(in.Name),
		Email:              auth.NormalizeEmail(in.Email),
		Website:            strings.TrimSpace(in.Website),
		Address:            strings.TrimSpace(in.Address),
		Phone:              strings.TrimSpace(in.Phone),
		EstablishedYear:    in.EstablishedYear,
	}
	if rec.RegistrationNumber == "" {
		return nil, errRegistrationNeeded
	}
	if rec.Name == "" {
		return nil, errNameNeeded
	}
	if y := rec.EstablishedYear; y != nil && *y < minEstablishedYear {
		return nil, errEstablishedYear
	}
	if err := s.checkRegistration(ctx, rec.RegistrationNumber, ""); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	out, err := s.store.InsertSchool(ctx, rec)
	if err != nil {
		return nil, storeErr(err, "insert school")
	}
	return out, nil
}

// List returns every school that has not been deleted.
func (s *Service) List(ctx context.Context) ([]School, error) {
	out, err := s.store.ListSchools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	if out == nil {
		out = []School{}
	}
	return out, nil
}

// Get returns the school with id as seen by viewer. Super-admins see any
// school; users only the school they belong to.
func (s *Service) Get(ctx context.Context, viewer *auth.Principal, id string) (*School, error) {
	if viewer == nil || !viewer.Kind.Valid() {
		return nil, errInvalidViewer
	}
	sc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer.Kind == auth.KindSuper {
		return sc, nil
	}
	if viewer.School == nil || viewer.School.ID != sc.ID {
		return nil, errForeignSchool
	}
	return sc, nil
}

// Update applies patch to the school with id.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*School, error) {
	sc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.RegistrationNumber != nil {
		reg := strings.TrimSpace(*patch.RegistrationNumber)
		if reg == "" {
			return nil, errRegistrationNeeded
		}
		if err := s.checkRegistration(ctx, reg, sc.ID); err != nil {
			return nil, err
		}
		sc.RegistrationNumber = reg
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errNameNeeded
		}
		sc.Name = name
	}
	if patch.Email != nil {
		sc.Email = auth.NormalizeEmail(*patch.Email)
	}
	if patch.Website != nil {
		sc.Website = strings.TrimSpace(*patch.Website)
	}
	if patch.Address != nil {
		sc.Address = strings.TrimSpace(*patch.Address)
	}
	if patch.Phone != nil {
		sc.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.EstablishedYear != nil {
		if *patch.EstablishedYear < minEstablishedYear {
			return nil, errEstablishedYear
		}
		year := *patch.EstablishedYear
		sc.EstablishedYear = &year
	}
	sc.UpdatedAt = s.now().UTC()
	out, err := s.store.UpdateSchool(ctx, *sc)
	if err != nil {
		return nil, storeErr(err, "update school")
	}
	return out, nil
}

// Delete soft-deletes the school with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteSchool(ctx, strings.TrimSpace(id), s.now().UTC()); err != nil {
		return storeErr(err, "delete school")
	}
	return nil
}

func (s *Service) find(ctx context.Context, id string) (*School, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errSchoolNotFound
	}
	sc, err := s.store.GetSchool(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, errSchoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get school: %w", err)
	}
	return sc, nil
}

// checkRegistration fails when another school than selfID holds reg.
func (s *Service) checkRegistration(ctx context.Context, reg, selfID string) error {
	existing, err := s.store.FindSchoolByRegistration(ctx, reg)
	if errors.Is(err, auth.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup registration number: %w", err)
	}
	if existing.ID != selfID {
		return errRegistrationTaken
	}
	return nil
}

// storeErr maps store sentinels onto caller-facing errors.
func storeErr(err error, op string) error {
	var authErr *auth.Error
	switch {
	case errors.As(err, &authErr):
		return err
	case errors.Is(err, auth.ErrNotFound):
		return errSchoolNotFound
	case errors.Is(err, auth.ErrConflict):
		return errRegistrationTaken
	}
	return fmt.Errorf("%s: %w", op, err)
}
