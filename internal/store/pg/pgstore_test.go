package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"edudesk.io/internal/auth"
)

var principalRowColumns = []string{
	"id", "email", "name", "password_hash", "is_active", "is_deleted",
	"reset_token", "reset_token_expiry", "created_at", "updated_at",
	"role_id", "role_name", "school_id", "school_name",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := New(db)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func expectUserRow(mock sqlmock.Sqlmock, where string, created time.Time, args ...driver.Value) {
	rows := sqlmock.NewRows(principalRowColumns).
		AddRow("u1", "admin@north.edu", "Ada", "hash", true, false, nil, nil, created, created, "r1", "admin", "sc1", "North")
	q := mock.ExpectQuery("from users a left join roles r on r.id = a.role_id left join schools sc on sc.id = a.school_id " + where)
	if len(args) > 0 {
		q = q.WithArgs(args...)
	}
	q.WillReturnRows(rows)
	mock.ExpectQuery("from role_permissions rp join permissions p").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("p1", auth.PermChangePassword).
			AddRow("p2", auth.PermUserRead))
}

func TestFindByEmailJoinsRoleAndSchool(t *testing.T) {
	store, mock, now := newMockStore(t)
	expectUserRow(mock, regexp.QuoteMeta("where a.email = $1"), now, "admin@north.edu")

	p, err := store.FindByEmail(context.Background(), auth.KindUser, " Admin@North.edu ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if p.Kind != auth.KindUser || p.ID != "u1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.Role == nil || p.Role.Name != "admin" || len(p.Role.Permissions) != 2 {
		t.Fatalf("unexpected role: %+v", p.Role)
	}
	if p.School == nil || p.School.Name != "North" {
		t.Fatalf("unexpected school: %+v", p.School)
	}
	if p.ResetToken != nil || p.ResetTokenExpiry != nil {
		t.Fatalf("expected no reset ticket")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindSuperAdminWithoutRole(t *testing.T) {
	store, mock, now := newMockStore(t)
	expiry := now.Add(time.Hour)
	mock.ExpectQuery("from super_admins a left join roles r on r.id = a.role_id " + regexp.QuoteMeta("where a.id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(principalRowColumns).
			AddRow("s1", "root@edudesk.io", "Root", "hash", true, false, "tok", expiry, now, now, nil, nil, nil, nil))

	p, err := store.FindByID(context.Background(), auth.KindSuper, "s1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if p.Kind != auth.KindSuper || p.Role != nil || p.School != nil {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.ResetToken == nil || *p.ResetToken != "tok" || p.ResetTokenExpiry == nil || !p.ResetTokenExpiry.Equal(expiry) {
		t.Fatalf("unexpected reset ticket: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindNotFound(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("from users a").WithArgs("ghost@north.edu").WillReturnRows(sqlmock.NewRows(principalRowColumns))

	_, err := store.FindByEmail(context.Background(), auth.KindUser, "ghost@north.edu")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindByID(context.Background(), "guest", "x"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown kind, got %v", err)
	}
}

func TestFindByResetTokenFiltersExpiry(t *testing.T) {
	store, mock, now := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("where a.reset_token = $1 and a.reset_token_expiry > $2")).
		WithArgs("tok", now).
		WillReturnRows(sqlmock.NewRows(principalRowColumns))

	if _, err := store.FindByResetToken(context.Background(), auth.KindUser, "tok", now); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindByResetToken(context.Background(), auth.KindUser, "", now); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty token, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateStoresResetTicket(t *testing.T) {
	store, mock, now := newMockStore(t)
	token := "abc123"
	expiry := now.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("update users set reset_token = $2, reset_token_expiry = $3, updated_at = $4 where id = $1 returning id")).
		WithArgs("u1", token, expiry, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	expectUserRow(mock, regexp.QuoteMeta("where a.id = $1"), now, "u1")

	if _, err := store.Update(context.Background(), auth.KindUser, "u1", auth.PrincipalUpdate{
		ResetToken:       &token,
		ResetTokenExpiry: &expiry,
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateMissingPrincipal(t *testing.T) {
	store, mock, now := newMockStore(t)
	hash := "new-hash"
	mock.ExpectQuery(regexp.QuoteMeta("update super_admins set password_hash = $2, updated_at = $3 where id = $1 returning id")).
		WithArgs("s9", hash, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Update(context.Background(), auth.KindSuper, "s9", auth.PrincipalUpdate{PasswordHash: &hash})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemResetTicketIsConditional(t *testing.T) {
	store, mock, now := newMockStore(t)
	redeem := regexp.QuoteMeta("update users set password_hash = $3, reset_token = null, reset_token_expiry = null, updated_at = $2 where reset_token = $1 and reset_token_expiry > $2 returning id")

	mock.ExpectQuery(redeem).
		WithArgs("tok", now, "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	expectUserRow(mock, regexp.QuoteMeta("where a.id = $1"), now, "u1")

	if _, err := store.RedeemResetTicket(context.Background(), auth.KindUser, "tok", now, "hash"); err != nil {
		t.Fatalf("RedeemResetTicket: %v", err)
	}

	// Second redemption matches no row.
	mock.ExpectQuery(redeem).
		WithArgs("tok", now, "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.RedeemResetTicket(context.Background(), auth.KindUser, "tok", now, "hash"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClearExpiredResetTickets(t *testing.T) {
	store, mock, now := newMockStore(t)
	mock.ExpectExec("update users set reset_token = null, reset_token_expiry = null where reset_token_expiry is not null and reset_token_expiry <=").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("update super_admins set reset_token = null").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := store.ClearExpiredResetTickets(context.Background(), now)
	if err != nil {
		t.Fatalf("ClearExpiredResetTickets: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 cleared tickets, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePrincipalConflict(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("select id from roles where name = $1")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreatePrincipal(context.Background(), auth.Principal{
		Kind: auth.KindUser, Email: "admin@north.edu", Name: "Ada", PasswordHash: "hash", IsActive: true,
		Role: &auth.Role{Name: "admin"},
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePrincipalUnknownRole(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("select id from roles where name = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.CreatePrincipal(context.Background(), auth.Principal{
		Kind: auth.KindUser, Email: "a@b.c", Name: "A", PasswordHash: "hash", Role: &auth.Role{Name: "ghost"},
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureRoleReplacesPermissions(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into roles").
		WithArgs(sqlmock.AnyArg(), "admin").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectExec(regexp.QuoteMeta("delete from role_permissions where role_id = $1")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("insert into permissions").
		WithArgs(sqlmock.AnyArg(), auth.PermUserRead).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	role, err := store.EnsureRole(context.Background(), "admin", []string{auth.PermUserRead})
	if err != nil {
		t.Fatalf("EnsureRole: %v", err)
	}
	if role.ID != "r1" || len(role.Permissions) != 1 || role.Permissions[0].Name != auth.PermUserRead {
		t.Fatalf("unexpected role: %+v", role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, name := range []string{
		"0001_identity.up.sql", "0001_identity.down.sql",
		"0002_school_profile.up.sql", "0002_school_profile.down.sql",
	} {
		if _, err := Migrations().Open(name); err != nil {
			t.Fatalf("missing migration %s: %v", name, err)
		}
	}
	seed, err := fs.ReadFile(Seeds(), "0001_permissions.sql")
	if err != nil {
		t.Fatalf("missing seed: %v", err)
	}
	for _, name := range auth.BuiltinPermissions {
		if !strings.Contains(string(seed), "'"+name+"'") {
			t.Fatalf("seed does not insert permission %s", name)
		}
	}
	platform, err := fs.ReadFile(Seeds(), "0002_platform_role.sql")
	if err != nil {
		t.Fatalf("missing seed: %v", err)
	}
	if !strings.Contains(string(platform), "'"+auth.RolePlatformAdmin+"'") {
		t.Fatalf("platform seed does not create %s", auth.RolePlatformAdmin)
	}
}
