package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/notify"
	"edudesk.io/internal/school"
)

type outbox struct {
	mu   sync.Mutex
	jobs []notify.Job
}

func (o *outbox) Deliver(_ context.Context, job notify.Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, job)
	return nil
}

func (o *outbox) resetToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.jobs) == 0 {
		t.Fatalf("no reset message delivered")
	}
	link, _ := o.jobs[len(o.jobs)-1].Context["resetUrl"].(string)
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse reset url %q: %v", link, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("reset url %q has no token", link)
	}
	return token
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *auth.MemoryStore
	outbox  *outbox
	users   map[string]*auth.Principal
	schools *school.MemoryStore
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestAPI(t *testing.T, checks map[string]Pinger) *apiClient {
	t.Helper()
	ctx := context.Background()
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}

	store := auth.NewMemoryStore()
	prov, err := auth.NewProvisioner(store, hasher)
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}
	if _, err := prov.EnsureRole(ctx, auth.RoleAdmin, []string{auth.PermUserRead, auth.PermChangePassword, auth.PermSchoolReadOwn}); err != nil {
		t.Fatalf("EnsureRole: %v", err)
	}
	if _, err := prov.EnsureRole(ctx, "teacher", []string{auth.PermSchoolReadOwn}); err != nil {
		t.Fatalf("EnsureRole: %v", err)
	}
	if _, err := prov.EnsureRole(ctx, auth.RolePlatformAdmin, auth.BuiltinPermissions); err != nil {
		t.Fatalf("EnsureRole: %v", err)
	}
	users := map[string]*auth.Principal{}
	for key, acc := range map[string]auth.NewAccount{
		"super": {Kind: auth.KindSuper, Email: "root@edudesk.io", Name: "Root", Password: "super-secret"},
		"admin": {Kind: auth.KindUser, Email: "admin@north.edu", Name: "Ada", Password: "admin-secret", Role: auth.RoleAdmin, School: "North"},
		"staff": {Kind: auth.KindUser, Email: "staff@north.edu", Name: "Sam", Password: "staff-secret", Role: "teacher", School: "North"},
		"owner": {Kind: auth.KindSuper, Email: "owner@edudesk.io", Name: "Olga", Password: "owner-secret", Role: auth.RolePlatformAdmin},
	} {
		p, err := prov.CreateAccount(ctx, acc)
		if err != nil {
			t.Fatalf("CreateAccount %s: %v", acc.Email, err)
		}
		users[key] = p
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte("test-secret"), Issuer: "edudesk-test", TTL: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc, err := auth.NewService(store, tokens, auth.WithHasher(hasher))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	box := &outbox{}
	sink, err := notify.NewSink(box)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	resets, err := auth.NewResetCoordinator(store, sink, auth.ResetConfig{WebURL: "https://app.edudesk.io/"}, auth.WithResetHasher(hasher))
	if err != nil {
		t.Fatalf("NewResetCoordinator: %v", err)
	}

	schoolStore := school.NewMemoryStore()
	schools, err := school.NewService(schoolStore)
	if err != nil {
		t.Fatalf("school.NewService: %v", err)
	}

	api, err := New(svc, resets, schools, ReadyProbe{Checks: checks}, Options{Version: "test", RateBurst: 100, RatePerSec: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		outbox:  box,
		users:   users,
		schools: schoolStore,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) signIn(path, email, password string) string {
	c.t.Helper()
	resp := c.post(path, map[string]any{"email": email, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		body := decode[errorEnvelope](c.t, resp)
		c.t.Fatalf("sign-in %s: status %d (%s)", email, resp.StatusCode, body.Message)
	}
	payload := decode[successEnvelope](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, code int, msg string) errorEnvelope {
	t.Helper()
	if resp.StatusCode != code {
		body := decode[errorEnvelope](t, resp)
		t.Fatalf("expected %d, got %d (%s)", code, resp.StatusCode, body.Message)
	}
	body := decode[errorEnvelope](t, resp)
	if body.Success || body.Status != code {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if msg != "" && body.Message != msg {
		t.Fatalf("expected message %q, got %q", msg, body.Message)
	}
	if body.Path == "" || body.Timestamp == "" || body.RequestID == "" {
		t.Fatalf("error envelope missing path/timestamp/request_id: %+v", body)
	}
	return body
}

func TestSignInEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.post("/v1/auth/super/signin", map[string]any{"email": "ROOT@edudesk.io", "password": "super-secret"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[struct {
		Success bool         `json:"success"`
		Message string       `json:"message"`
		Token   string       `json:"token"`
		Data    auth.Profile `json:"data"`
	}](t, resp)
	if !body.Success || body.Token == "" || body.Message != "Sign-in successful" {
		t.Fatalf("unexpected sign-in body: %+v", body)
	}
	if body.Data.Type != auth.KindSuper || body.Data.Email != "root@edudesk.io" {
		t.Fatalf("unexpected profile: %+v", body.Data)
	}

	api.signIn("/v1/auth/admin/signin", "admin@north.edu", "admin-secret")
	api.signIn("/v1/auth/signin", "staff@north.edu", "staff-secret")

	expectError(t, api.post("/v1/auth/admin/signin", map[string]any{"email": "staff@north.edu", "password": "staff-secret"}, nil),
		http.StatusUnauthorized, "Invalid credentials")
	expectError(t, api.post("/v1/auth/signin", map[string]any{"email": "staff@north.edu", "password": "wrong"}, nil),
		http.StatusUnauthorized, "Invalid credentials")
}

func TestSignInValidation(t *testing.T) {
	api := newTestAPI(t, nil)

	body := expectError(t, api.post("/v1/auth/signin", map[string]any{"email": "not-an-email"}, nil), http.StatusBadRequest, "")
	if len(body.Errors) != 2 {
		t.Fatalf("expected two validation errors, got %v", body.Errors)
	}
	if !strings.Contains(strings.Join(body.Errors, ";"), "Password is required") {
		t.Fatalf("expected password error, got %v", body.Errors)
	}

	expectError(t, api.post("/v1/auth/signin", map[string]any{"email": "a@b.io", "password": "x", "extra": true}, nil),
		http.StatusBadRequest, "")
	expectError(t, api.post("/v1/auth/signin", nil, nil), http.StatusBadRequest, "request body is required")
}

func TestProfileRequiresBearer(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.post("/v1/auth/profile", nil, nil)
	if got := resp.Header.Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	expectError(t, resp, http.StatusUnauthorized, "Missing bearer token")

	expectError(t, api.post("/v1/auth/profile", nil, map[string]string{"Authorization": "Basic abc"}),
		http.StatusUnauthorized, "Invalid authorization scheme")
	expectError(t, api.post("/v1/auth/profile", nil, bearerHeader("garbage")),
		http.StatusUnauthorized, "")
}

func TestProfileReturnsCaller(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.signIn("/v1/auth/admin/signin", "admin@north.edu", "admin-secret")

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		resp := api.do(method, "/v1/auth/profile", nil, bearerHeader(token))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s profile: expected 200, got %d", method, resp.StatusCode)
		}
		body := decode[struct {
			Data auth.Profile `json:"data"`
		}](t, resp)
		if body.Data.ID != api.users["admin"].ID {
			t.Fatalf("unexpected profile id %q", body.Data.ID)
		}
		if body.Data.Role == nil || body.Data.Role.Name != auth.RoleAdmin {
			t.Fatalf("expected admin role, got %+v", body.Data.Role)
		}
		if body.Data.School == nil || body.Data.School.Name != "North" {
			t.Fatalf("expected school North, got %+v", body.Data.School)
		}
	}
}

func TestUserDetailsPermissionGuard(t *testing.T) {
	api := newTestAPI(t, nil)
	staffID := api.users["staff"].ID

	admin := api.signIn("/v1/auth/admin/signin", "admin@north.edu", "admin-secret")
	resp := api.get("/v1/auth/user/"+staffID, bearerHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[struct {
		Message string       `json:"message"`
		Data    auth.Profile `json:"data"`
	}](t, resp)
	if body.Message != "User details retrieved successfully" || body.Data.Email != "staff@north.edu" {
		t.Fatalf("unexpected body: %+v", body)
	}

	expectError(t, api.get("/v1/auth/user/does-not-exist", bearerHeader(admin)), http.StatusNotFound, "User not found")

	staff := api.signIn("/v1/auth/signin", "staff@north.edu", "staff-secret")
	denied := expectError(t, api.get("/v1/auth/user/"+staffID, bearerHeader(staff)), http.StatusForbidden, "")
	if len(denied.Missing) != 1 || denied.Missing[0] != auth.PermUserRead {
		t.Fatalf("expected missing [%s], got %v", auth.PermUserRead, denied.Missing)
	}

	super := api.signIn("/v1/auth/super/signin", "root@edudesk.io", "super-secret")
	expectError(t, api.get("/v1/auth/user/"+staffID, bearerHeader(super)), http.StatusForbidden,
		"User not authenticated or permissions missing")
}

func TestUpdatePassword(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.signIn("/v1/auth/admin/signin", "admin@north.edu", "admin-secret")

	body := expectError(t, api.post("/v1/auth/update-password", map[string]any{"oldPassword": "admin-secret", "newPassword": "short"}, bearerHeader(token)),
		http.StatusBadRequest, "")
	if body.Errors[0] != "New password must be at least 8 characters long" {
		t.Fatalf("unexpected validation message %q", body.Errors[0])
	}

	expectError(t, api.post("/v1/auth/update-password", map[string]any{"oldPassword": "nope", "newPassword": "brand-new-secret"}, bearerHeader(token)),
		http.StatusBadRequest, "Invalid old password")

	resp := api.post("/v1/auth/update-password", map[string]any{"oldPassword": "admin-secret", "newPassword": "brand-new-secret"}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	expectError(t, api.post("/v1/auth/admin/signin", map[string]any{"email": "admin@north.edu", "password": "admin-secret"}, nil),
		http.StatusUnauthorized, "")
	api.signIn("/v1/auth/admin/signin", "admin@north.edu", "brand-new-secret")
}

func TestPasswordResetFlow(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.post("/v1/auth/forgot-password", map[string]any{"email": "staff@north.edu"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ok := decode[successEnvelope](t, resp)
	if ok.Message != "Password reset link sent successfully" {
		t.Fatalf("unexpected message %q", ok.Message)
	}
	token := api.outbox.resetToken(t)
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}

	resp = api.post("/v1/auth/reset-password", map[string]any{"token": token, "newPassword": "fresh-secret"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	expectError(t, api.post("/v1/auth/reset-password", map[string]any{"token": token, "newPassword": "another-secret"}, nil),
		http.StatusUnauthorized, "Invalid or expired token")
	api.signIn("/v1/auth/signin", "staff@north.edu", "fresh-secret")

	expectError(t, api.post("/v1/auth/forgot-password", map[string]any{"email": "ghost@north.edu"}, nil),
		http.StatusNotFound, "")
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.get("/healthz", nil)
	health := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected healthz: %d %v", resp.StatusCode, health)
	}
	resp = api.get("/readyz", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	down := newTestAPI(t, map[string]Pinger{"postgres": failingPinger{}})
	resp = down.get("/readyz", nil)
	ready := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(ready["error"].(string), "postgres:") {
		t.Fatalf("expected failing check name in error, got %v", ready["error"])
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t, nil)

	expectError(t, api.get("/v1/auth/nowhere", nil), http.StatusNotFound, "Cannot GET /v1/auth/nowhere")
	expectError(t, api.get("/v1/auth/signin", nil), http.StatusMethodNotAllowed, "Method not allowed")
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(nil, nil, nil, ReadyProbe{}, Options{}); err == nil {
		t.Fatal("expected error without authenticator")
	}
	rr := httptest.NewRecorder()
	writeSuccess(rr, http.StatusCreated, "created", nil)
	if rr.Code != http.StatusCreated || !strings.Contains(rr.Body.String(), `"success":true`) {
		t.Fatalf("unexpected success envelope: %d %s", rr.Code, rr.Body.String())
	}
}
