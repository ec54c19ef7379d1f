package auth

import (
	"strings"
	"time"
)

// PrincipalKind selects the credential store a principal lives in.
type PrincipalKind string

const (
	KindSuper PrincipalKind = "super"
	KindUser  PrincipalKind = "user"
)

// Valid reports whether k is one of the known principal kinds.
func (k PrincipalKind) Valid() bool {
	return k == KindSuper || k == KindUser
}

// RoleAdmin is the role name required by the admin sign-in endpoint.
const RoleAdmin = "admin"

// Permission is a named capability attached to a role.
type Permission struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Role groups permissions. Principals reference at most one role.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// School is the tenant a user belongs to.
type School struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Principal is a super-admin or user record as stored.
type Principal struct {
	ID               string
	Kind             PrincipalKind
	Email            string
	Name             string
	PasswordHash     string
	IsActive         bool
	IsDeleted        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ResetToken       *string
	ResetTokenExpiry *time.Time
	Role             *Role
	School           *School
}

// PrincipalUpdate is a partial update. Nil fields are left untouched.
type PrincipalUpdate struct {
	PasswordHash     *string
	ResetToken       *string
	ResetTokenExpiry *time.Time
	ClearResetTicket bool
	UpdatedAt        *time.Time
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// RoleRef is the public projection of a role.
type RoleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is the response shape for sign-in and detail lookups.
type Profile struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Name      string        `json:"name"`
	IsActive  bool          `json:"isActive"`
	IsDeleted bool          `json:"isDeleted"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Type      PrincipalKind `json:"type"`
	Role      *RoleRef      `json:"role,omitempty"`
	School    *School       `json:"school,omitempty"`
}

// ProfileOf projects a principal into its response shape.
func ProfileOf(p *Principal) Profile {
	out := Profile{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.Name,
		IsActive:  p.IsActive,
		IsDeleted: p.IsDeleted,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
		Type:      p.Kind,
	}
	if p.Kind == KindUser {
		if p.Role != nil {
			out.Role = &RoleRef{ID: p.Role.ID, Name: p.Role.Name}
		}
		if p.School != nil {
			school := *p.School
			out.School = &school
		}
	}
	return out
}
