package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ auth.ProvisionStore = (*Store)(nil)

func (s *Store) CreatePrincipal(ctx context.Context, p auth.Principal) (*auth.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := s.now().UTC()
	var roleID sql.NullString
	if p.Role != nil && p.Role.Name != "" {
		var id string
		err := s.db.QueryRowContext(ctx, `select id from roles where name = $1`, p.Role.Name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %s not found", auth.ErrNotFound, p.Role.Name)
		}
		if err != nil {
			return nil, err
		}
		roleID = sql.NullString{String: id, Valid: true}
	}

	var err error
	switch p.Kind {
	case auth.KindSuper:
		_, err = s.db.ExecContext(ctx, `
			insert into super_admins (id, email, name, password_hash, is_active, role_id, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $7)
		`, p.ID, auth.NormalizeEmail(p.Email), p.Name, p.PasswordHash, p.IsActive, roleID, now)
	case auth.KindUser:
		var schoolID sql.NullString
		if p.School != nil && p.School.ID != "" {
			schoolID = sql.NullString{String: p.School.ID, Valid: true}
		}
		_, err = s.db.ExecContext(ctx, `
			insert into users (id, email, name, password_hash, is_active, role_id, school_id, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		`, p.ID, auth.NormalizeEmail(p.Email), p.Name, p.PasswordHash, p.IsActive, roleID, schoolID, now)
	default:
		return nil, fmt.Errorf("%w: unknown principal type %q", auth.ErrInvalidInput, p.Kind)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return nil, fmt.Errorf("%w: email already registered", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return nil, auth.ErrNotFound
			}
		}
		return nil, err
	}
	return s.FindByID(ctx, p.Kind, p.ID)
}

// EnsureRole upserts the role and replaces its permission set, creating
// missing permission rows.
func (s *Store) EnsureRole(ctx context.Context, name string, permissions []string) (*auth.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	role := auth.Role{Name: name}
	if err := tx.QueryRowContext(ctx, `
		insert into roles (id, name) values ($1, $2)
		on conflict (name) do update set name = excluded.name
		returning id
	`, ids.New(), name).Scan(&role.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, role.ID); err != nil {
		return nil, err
	}
	for _, permName := range permissions {
		var permID string
		if err := tx.QueryRowContext(ctx, `
			insert into permissions (id, name) values ($1, $2)
			on conflict (name) do update set name = excluded.name
			returning id
		`, ids.New(), permName).Scan(&permID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, role.ID, permID); err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, auth.Permission{ID: permID, Name: permName})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) EnsureSchool(ctx context.Context, name string) (*auth.School, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var school auth.School
	if err := s.db.QueryRowContext(ctx, `
		insert into schools (id, name) values ($1, $2)
		on conflict (name) do update set name = excluded.name
		returning id, name
	`, ids.New(), name).Scan(&school.ID, &school.Name); err != nil {
		return nil, err
	}
	return &school, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
