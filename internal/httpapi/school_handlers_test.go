package httpapi

import (
	"context"
	"net/http"
	"testing"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/school"
)

type schoolBody struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    school.School `json:"data"`
}

func TestSchoolLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)
	owner := bearerHeader(api.signIn("/v1/auth/super/signin", "owner@edudesk.io", "owner-secret"))

	resp := api.post("/v1/school", map[string]any{
		"registrationNumber": "SCH123456",
		"name":               "Example High School",
		"email":              "Office@Example.com",
		"establishedYear":    1990,
	}, owner)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decode[schoolBody](t, resp)
	if created.Message != "School created successfully" || created.Data.ID == "" || created.Data.Email != "office@example.com" {
		t.Fatalf("unexpected create body: %+v", created)
	}
	id := created.Data.ID

	expectError(t, api.post("/v1/school", map[string]any{"registrationNumber": "SCH123456", "name": "Copy"}, owner),
		http.StatusConflict, "School with this registration number already exists")

	resp = api.get("/v1/school", owner)
	list := decode[struct {
		Message string          `json:"message"`
		Data    []school.School `json:"data"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK || len(list.Data) != 1 || list.Data[0].ID != id {
		t.Fatalf("unexpected list: %d %+v", resp.StatusCode, list)
	}

	resp = api.do(http.MethodPatch, "/v1/school/"+id, map[string]any{"name": "Example Academy"}, owner)
	updated := decode[schoolBody](t, resp)
	if resp.StatusCode != http.StatusOK || updated.Data.Name != "Example Academy" || updated.Data.RegistrationNumber != "SCH123456" {
		t.Fatalf("unexpected update: %d %+v", resp.StatusCode, updated)
	}

	resp = api.get("/v1/school/"+id, owner)
	got := decode[schoolBody](t, resp)
	if resp.StatusCode != http.StatusOK || got.Message != "School retrieved successfully" {
		t.Fatalf("unexpected get: %d %+v", resp.StatusCode, got)
	}

	resp = api.do(http.MethodDelete, "/v1/school/"+id, nil, owner)
	deleted := decode[successEnvelope](t, resp)
	if resp.StatusCode != http.StatusOK || deleted.Message != "School deleted successfully" {
		t.Fatalf("unexpected delete: %d %+v", resp.StatusCode, deleted)
	}
	expectError(t, api.get("/v1/school/"+id, owner), http.StatusNotFound, "School not found")
	expectError(t, api.do(http.MethodDelete, "/v1/school/"+id, nil, owner), http.StatusNotFound, "School not found")
}

func TestSchoolReadOwnTenancy(t *testing.T) {
	api := newTestAPI(t, nil)
	ctx := context.Background()
	north, err := api.schools.InsertSchool(ctx, school.School{
		ID: api.users["admin"].School.ID, RegistrationNumber: "N-1", Name: "North",
	})
	if err != nil {
		t.Fatalf("InsertSchool: %v", err)
	}
	south, err := api.schools.InsertSchool(ctx, school.School{RegistrationNumber: "S-1", Name: "South"})
	if err != nil {
		t.Fatalf("InsertSchool: %v", err)
	}

	staff := bearerHeader(api.signIn("/v1/auth/signin", "staff@north.edu", "staff-secret"))
	resp := api.get("/v1/school/"+north.ID, staff)
	own := decode[schoolBody](t, resp)
	if resp.StatusCode != http.StatusOK || own.Data.Name != "North" {
		t.Fatalf("expected own school, got %d %+v", resp.StatusCode, own)
	}
	expectError(t, api.get("/v1/school/"+south.ID, staff), http.StatusForbidden, "Unauthorized to access this school")

	denied := expectError(t, api.get("/v1/school", staff), http.StatusForbidden, "")
	if len(denied.Missing) != 1 || denied.Missing[0] != auth.PermSchoolRead {
		t.Fatalf("expected missing [%s], got %v", auth.PermSchoolRead, denied.Missing)
	}
	expectError(t, api.do(http.MethodPatch, "/v1/school/"+north.ID, map[string]any{"name": "Mine"}, staff), http.StatusForbidden, "")
	expectError(t, api.do(http.MethodDelete, "/v1/school/"+north.ID, nil, staff), http.StatusForbidden, "")
	expectError(t, api.get("/v1/school/"+north.ID, nil), http.StatusUnauthorized, "Missing bearer token")
}

func TestSchoolValidation(t *testing.T) {
	api := newTestAPI(t, nil)
	owner := bearerHeader(api.signIn("/v1/auth/super/signin", "owner@edudesk.io", "owner-secret"))

	body := expectError(t, api.post("/v1/school", map[string]any{"name": "No Number", "establishedYear": 1700}, owner),
		http.StatusBadRequest, "")
	if len(body.Errors) != 2 {
		t.Fatalf("expected two validation errors, got %v", body.Errors)
	}
	want := map[string]bool{"Registration number is required": false, "Established year must be 1800 or later": false}
	for _, e := range body.Errors {
		if _, ok := want[e]; ok {
			want[e] = true
		}
	}
	for msg, seen := range want {
		if !seen {
			t.Fatalf("expected %q in %v", msg, body.Errors)
		}
	}

	expectError(t, api.do(http.MethodPatch, "/v1/school/missing", map[string]any{"name": "Ghost"}, owner),
		http.StatusNotFound, "School not found")
	expectError(t, api.do(http.MethodPut, "/v1/school/missing", nil, owner), http.StatusMethodNotAllowed, "Method not allowed")
}

func TestValidateResetTokenEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.post("/v1/auth/forgot-password", map[string]any{"email": "staff@north.edu"}, nil)
	resp.Body.Close()
	token := api.outbox.resetToken(t)

	resp = api.post("/v1/auth/reset-password/validate", map[string]any{"token": token}, nil)
	ok := decode[successEnvelope](t, resp)
	if resp.StatusCode != http.StatusOK || ok.Message != "Reset token is valid" {
		t.Fatalf("unexpected validate response: %d %+v", resp.StatusCode, ok)
	}

	expectError(t, api.post("/v1/auth/reset-password/validate", map[string]any{"token": "deadbeef"}, nil),
		http.StatusUnauthorized, "Invalid or expired token")
	expectError(t, api.post("/v1/auth/reset-password/validate", map[string]any{}, nil),
		http.StatusBadRequest, "Token is required")

	resp = api.post("/v1/auth/reset-password", map[string]any{"token": token, "newPassword": "fresh-secret"}, nil)
	resp.Body.Close()
	expectError(t, api.post("/v1/auth/reset-password/validate", map[string]any{"token": token}, nil),
		http.StatusUnauthorized, "Invalid or expired token")
}
