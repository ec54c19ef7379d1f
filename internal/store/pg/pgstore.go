package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"edudesk.io/internal/auth"
)

// Store implements auth.Repository on PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.Repository = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

func tableFor(kind auth.PrincipalKind) (string, error) {
	switch kind {
	case auth.KindSuper:
		return "super_admins", nil
	case auth.KindUser:
		return "users", nil
	}
	return "", fmt.Errorf("%w: unknown principal type %q", auth.ErrInvalidInput, kind)
}

const principalColumns = `a.id, a.email, a.name, a.password_hash, a.is_active, a.is_deleted,
	a.reset_token, a.reset_token_expiry, a.created_at, a.updated_at, r.id, r.name`

func selectPrincipal(kind auth.PrincipalKind) (string, error) {
	switch kind {
	case auth.KindSuper:
		return `select ` + principalColumns + `, null::text, null::text
		from super_admins a
		left join roles r on r.id = a.role_id`, nil
	case auth.KindUser:
		return `select ` + principalColumns + `, sc.id, sc.name
		from users a
		left join roles r on r.id = a.role_id
		left join schools sc on sc.id = a.school_id`, nil
	}
	return "", fmt.Errorf("%w: unknown principal type %q", auth.ErrInvalidInput, kind)
}

func (s *Store) FindByEmail(ctx context.Context, kind auth.PrincipalKind, email string) (*auth.Principal, error) {
	return s.findOne(ctx, kind, `where a.email = $1`, auth.NormalizeEmail(email))
}

func (s *Store) FindByID(ctx context.Context, kind auth.PrincipalKind, id string) (*auth.Principal, error) {
	return s.findOne(ctx, kind, `where a.id = $1`, id)
}

func (s *Store) FindByResetToken(ctx context.Context, kind auth.PrincipalKind, token string, now time.Time) (*auth.Principal, error) {
	if token == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, kind, `where a.reset_token = $1 and a.reset_token_expiry > $2`, token, now.UTC())
}

func (s *Store) findOne(ctx context.Context, kind auth.PrincipalKind, where string, args ...any) (*auth.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	base, err := selectPrincipal(kind)
	if err != nil {
		return nil, err
	}
	var (
		p          auth.Principal
		resetToken sql.NullString
		resetExp   sql.NullTime
		roleID     sql.NullString
		roleName   sql.NullString
		schoolID   sql.NullString
		schoolName sql.NullString
	)
	row := s.db.QueryRowContext(ctx, base+"\n\t\t"+where, args...)
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &p.PasswordHash, &p.IsActive, &p.IsDeleted,
		&resetToken, &resetExp, &p.CreatedAt, &p.UpdatedAt, &roleID, &roleName, &schoolID, &schoolName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	p.Kind = kind
	if resetToken.Valid {
		token := resetToken.String
		p.ResetToken = &token
	}
	if resetExp.Valid {
		exp := resetExp.Time.UTC()
		p.ResetTokenExpiry = &exp
	}
	if roleID.Valid {
		perms, err := s.rolePermissions(ctx, roleID.String)
		if err != nil {
			return nil, err
		}
		p.Role = &auth.Role{ID: roleID.String, Name: roleName.String, Permissions: perms}
	}
	if schoolID.Valid {
		p.School = &auth.School{ID: schoolID.String, Name: schoolName.String}
	}
	return &p, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var perm auth.Permission
		if err := rows.Scan(&perm.ID, &perm.Name); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) Update(ctx context.Context, kind auth.PrincipalKind, id string, upd auth.PrincipalUpdate) (*auth.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var (
		sets []string
		args = []any{id}
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	switch {
	case upd.ClearResetTicket:
		sets = append(sets, "reset_token = null", "reset_token_expiry = null")
	default:
		if upd.ResetToken != nil {
			add("reset_token", *upd.ResetToken)
		}
		if upd.ResetTokenExpiry != nil {
			add("reset_token_expiry", upd.ResetTokenExpiry.UTC())
		}
	}
	updatedAt := s.now().UTC()
	if upd.UpdatedAt != nil {
		updatedAt = upd.UpdatedAt.UTC()
	}
	add("updated_at", updatedAt)

	query := fmt.Sprintf(`update %s set %s where id = $1 returning id`, table, strings.Join(sets, ", "))
	var updated string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return s.FindByID(ctx, kind, updated)
}

// RedeemResetTicket swaps the password and clears the ticket in a single
// conditional update, so a ticket can be redeemed at most once.
func (s *Store) RedeemResetTicket(ctx context.Context, kind auth.PrincipalKind, token string, now time.Time, passwordHash string) (*auth.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if token == "" {
		return nil, auth.ErrNotFound
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var id string
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update %s
		set password_hash = $3, reset_token = null, reset_token_expiry = null, updated_at = $2
		where reset_token = $1 and reset_token_expiry > $2
		returning id
	`, table), token, now.UTC(), passwordHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, kind, id)
}

func (s *Store) ClearExpiredResetTickets(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var total int64
	for _, table := range []string{"users", "super_admins"} {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			update %s
			set reset_token = null, reset_token_expiry = null
			where reset_token_expiry is not null and reset_token_expiry <= $1
		`, table), now.UTC())
		if err != nil {
			return total, fmt.Errorf("clear %s tickets: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
