package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/ids"
	"edudesk.io/internal/school"
)

var _ school.Store = (*Store)(nil)

const schoolColumns = `id, registration_number, name, email, website, address, phone,
	established_year, is_deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchool(row rowScanner) (*school.School, error) {
	var (
		sc                           school.School
		reg, email, web, addr, phone sql.NullString
		year                         sql.NullInt64
	)
	if err := row.Scan(&sc.ID, &reg, &sc.Name, &email, &web, &addr, &phone,
		&year, &sc.IsDeleted, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	sc.RegistrationNumber = reg.String
	sc.Email = email.String
	sc.Website = web.String
	sc.Address = addr.String
	sc.Phone = phone.String
	if year.Valid {
		y := int(year.Int64)
		sc.EstablishedYear = &y
	}
	sc.CreatedAt = sc.CreatedAt.UTC()
	sc.UpdatedAt = sc.UpdatedAt.UTC()
	return &sc, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullYear(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// schoolWriteErr maps constraint violations on the schools table.
func schoolWriteErr(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgErrUniqueViolation {
		return err
	}
	if pgErr.ConstraintName == "schools_name_key" {
		return &auth.Error{Kind: auth.ErrConflict, Message: "School with this name already exists"}
	}
	return fmt.Errorf("%w: registration number already registered", auth.ErrConflict)
}

func (s *Store) InsertSchool(ctx context.Context, sc school.School) (*school.School, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if sc.ID == "" {
		sc.ID = ids.New()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = s.now().UTC()
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = sc.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		insert into schools (id, registration_number, name, email, website, address, phone,
			established_year, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sc.ID, nullString(sc.RegistrationNumber), sc.Name, nullString(sc.Email), nullString(sc.Website),
		nullString(sc.Address), nullString(sc.Phone), nullYear(sc.EstablishedYear), sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return nil, schoolWriteErr(err)
	}
	return &sc, nil
}

func (s *Store) ListSchools(ctx context.Context) ([]school.School, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `select `+schoolColumns+`
		from schools
		where is_deleted = false
		order by created_at asc, id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []school.School
	for rows.Next() {
		sc, err := scanSchool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *Store) GetSchool(ctx context.Context, id string) (*school.School, error) {
	return s.findSchool(ctx, `where id = $1 and is_deleted = false`, id)
}

func (s *Store) FindSchoolByRegistration(ctx context.Context, reg string) (*school.School, error) {
	return s.findSchool(ctx, `where registration_number = $1`, reg)
}

func (s *Store) findSchool(ctx context.Context, where string, args ...any) (*school.School, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `select `+schoolColumns+`
		from schools
		`+where, args...)
	sc, err := scanSchool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return sc, err
}

func (s *Store) UpdateSchool(ctx context.Context, sc school.School) (*school.School, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		update schools
		set registration_number = $2, name = $3, email = $4, website = $5, address = $6,
			phone = $7, established_year = $8, updated_at = $9
		where id = $1 and is_deleted = false
		returning `+schoolColumns,
		sc.ID, nullString(sc.RegistrationNumber), sc.Name, nullString(sc.Email), nullString(sc.Website),
		nullString(sc.Address), nullString(sc.Phone), nullYear(sc.EstablishedYear), sc.UpdatedAt.UTC())
	out, err := scanSchool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, schoolWriteErr(err)
	}
	return out, nil
}

// DeleteSchool marks the school deleted; member rows keep their reference.
func (s *Store) DeleteSchool(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update schools set is_deleted = true, updated_at = $2
		where id = $1 and is_deleted = false
	`, id, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
