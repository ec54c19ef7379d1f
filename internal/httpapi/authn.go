package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"edudesk.io/internal/audit"
	"edudesk.io/internal/auth"
	"edudesk.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer token into an identity and attaches it to the
// request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="edudesk"`)
			writeError(w, r, http.StatusUnauthorized, err.Error(), nil)
			return
		}

		identity, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="edudesk", error="invalid_token"`)
			}
			handleAuthError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

// RequirePermissions rejects requests whose identity lacks any of perms.
func RequirePermissions(perms ...string) mux.MiddlewareFunc {
	required := append([]string(nil), perms...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := auth.IdentityFromContext(r.Context())
			if err := auth.Authorize(required, id); err != nil {
				obs.AuthzDeniedTotal.WithLabelValues(obs.CanonicalPath(r.URL.Path)).Inc()
				fields := map[string]any{"path": r.URL.Path, "required": required}
				var authErr *auth.Error
				if errors.As(err, &authErr) && len(authErr.Missing) > 0 {
					fields["missing"] = authErr.Missing
				}
				_ = audit.LogEvent(r.Context(), "auth.authorization.denied", fields)
				handleAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("Missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("Invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("Missing bearer token")
	}
	return token, nil
}
