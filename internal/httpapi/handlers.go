package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/obs"
	"edudesk.io/internal/school"
)

// Authenticator is the sign-in and identity surface used by the handlers.
type Authenticator interface {
	SignInSuper(ctx context.Context, email, password string) (auth.SignInResult, error)
	SignInAdmin(ctx context.Context, email, password string) (auth.SignInResult, error)
	SignIn(ctx context.Context, email, password string) (auth.SignInResult, error)
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
	Profile(ctx context.Context, kind auth.PrincipalKind, id string) (auth.Profile, error)
	UserDetails(ctx context.Context, id string) (auth.Profile, error)
	UpdatePassword(ctx context.Context, kind auth.PrincipalKind, id, oldPassword, newPassword string) error
}

// PasswordResetter runs the forgot/reset password flow.
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	RedeemReset(ctx context.Context, token, newPassword string) error
	ValidateResetToken(ctx context.Context, token string) error
}

// SchoolManager is the school administration surface.
type SchoolManager interface {
	Create(ctx context.Context, in school.NewSchool) (*school.School, error)
	List(ctx context.Context) ([]school.School, error)
	Get(ctx context.Context, viewer *auth.Principal, id string) (*school.School, error)
	Update(ctx context.Context, id string, patch school.Patch) (*school.School, error)
	Delete(ctx context.Context, id string) error
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe — проверка готовности зависимостей (БД, очередь).
type ReadyProbe struct {
	Checks map[string]Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := rp.Checks[name]
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Options tunes the HTTP layer.
type Options struct {
	Version      string
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
	// AllowedOrigins lists browser origins allowed by CORS.
	AllowedOrigins []string
	// TrustedProxies lists the networks whose X-Forwarded-For is believed.
	TrustedProxies []*net.IPNet
}

// API — HTTP слой.
type API struct {
	router     *mux.Router
	auth       Authenticator
	reset      PasswordResetter
	schools    SchoolManager
	readyProbe ReadyProbe
	opts       Options
}

func New(authn Authenticator, reset PasswordResetter, schools SchoolManager, rp ReadyProbe, opts Options) (*API, error) {
	if authn == nil {
		return nil, errors.New("authenticator is required")
	}
	if reset == nil {
		return nil, errors.New("password resetter is required")
	}
	if schools == nil {
		return nil, errors.New("school manager is required")
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		router:     mux.NewRouter(),
		auth:       authn,
		reset:      reset,
		schools:    schools,
		readyProbe: rp,
		opts:       opts,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// health/ready/metrics
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	limiter := newRateLimiter(a.opts.RateBurst, a.opts.RatePerSec, a.opts.TrustedProxies)
	public := func(h http.HandlerFunc) http.Handler { return limiter.Wrap(h) }
	protected := func(h http.HandlerFunc, perms ...string) http.Handler {
		var next http.Handler = h
		if len(perms) > 0 {
			next = RequirePermissions(perms...)(next)
		}
		return a.withAuth(next)
	}

	v1 := r.PathPrefix("/v1/auth").Subrouter()
	// Subrouters resolve method mismatches themselves.
	v1.NotFoundHandler = http.HandlerFunc(notFound)
	v1.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	v1.Handle("/super/signin", public(a.handleSuperSignIn)).Methods(http.MethodPost)
	v1.Handle("/admin/signin", public(a.handleAdminSignIn)).Methods(http.MethodPost)
	v1.Handle("/signin", public(a.handleSignIn)).Methods(http.MethodPost)
	v1.Handle("/forgot-password", public(a.handleForgotPassword)).Methods(http.MethodPost)
	v1.Handle("/reset-password", public(a.handleResetPassword)).Methods(http.MethodPost)
	v1.Handle("/reset-password/validate", public(a.handleValidateResetToken)).Methods(http.MethodPost)

	v1.Handle("/profile", protected(a.handleProfile)).Methods(http.MethodGet, http.MethodPost)
	v1.Handle("/user/{id}", protected(a.handleUserDetails, auth.PermUserRead)).Methods(http.MethodGet)
	v1.Handle("/update-password", protected(a.handleUpdatePassword, auth.PermChangePassword)).Methods(http.MethodPost)

	r.Handle("/v1/school", protected(a.handleCreateSchool, auth.PermSchoolCreate)).Methods(http.MethodPost)
	r.Handle("/v1/school", protected(a.handleListSchools, auth.PermSchoolRead)).Methods(http.MethodGet)
	r.Handle("/v1/school/{id}", protected(a.handleGetSchool, auth.PermSchoolReadOwn)).Methods(http.MethodGet)
	r.Handle("/v1/school/{id}", protected(a.handleUpdateSchool, auth.PermSchoolUpdate)).Methods(http.MethodPatch)
	r.Handle("/v1/school/{id}", protected(a.handleDeleteSchool, auth.PermSchoolDelete)).Methods(http.MethodDelete)
}

// Handler возвращает http.Handler для сервера.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = SecurityHeaders(h)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "edudesk-identity",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
