package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"edudesk.io/internal/audit"
	"edudesk.io/internal/auth"
	"edudesk.io/internal/obs"
)

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type updatePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type validateResetTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// bind decodes and validates a JSON body, writing the 400 response itself.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return false
	}
	if problems := validateStruct(dst); len(problems) > 0 {
		writeValidationError(w, r, problems)
		return false
	}
	return true
}

type signInFunc func(ctx context.Context, email, password string) (auth.SignInResult, error)

func (a *API) signInHandler(endpoint string, fn signInFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		if !bind(w, r, &req) {
			obs.SignInTotal.WithLabelValues(endpoint, "invalid").Inc()
			return
		}
		res, err := fn(r.Context(), req.Email, req.Password)
		obs.SignInTotal.WithLabelValues(endpoint, obs.Outcome(err)).Inc()
		if err != nil {
			_ = audit.LogEvent(r.Context(), "auth.signin.failed", map[string]any{
				"endpoint": endpoint,
				"email":    auth.NormalizeEmail(req.Email),
				"reason":   auth.Message(err, "error"),
			})
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.signin.succeeded", map[string]any{
			"endpoint":     endpoint,
			"principal_id": res.Profile.ID,
			"kind":         string(res.Profile.Type),
		})
		writeJSON(w, http.StatusOK, successEnvelope{
			Success: true,
			Status:  http.StatusOK,
			Message: "Sign-in successful",
			Token:   res.Token,
			Data:    res.Profile,
		})
	}
}

func (a *API) handleSuperSignIn(w http.ResponseWriter, r *http.Request) {
	a.signInHandler("super", a.auth.SignInSuper)(w, r)
}

func (a *API) handleAdminSignIn(w http.ResponseWriter, r *http.Request) {
	a.signInHandler("admin", a.auth.SignInAdmin)(w, r)
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	a.signInHandler("user", a.auth.SignIn)(w, r)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "User not authenticated", nil)
		return
	}
	profile, err := a.auth.Profile(r.Context(), id.Principal.Kind, id.Principal.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile retrieved successfully", profile)
}

func (a *API) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["id"])
	profile, err := a.auth.UserDetails(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User details retrieved successfully", profile)
}

func (a *API) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "User not authenticated", nil)
		return
	}
	var req updatePasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := a.auth.UpdatePassword(r.Context(), id.Principal.Kind, id.Principal.ID, req.OldPassword, req.NewPassword); err != nil {
		_ = audit.LogEvent(r.Context(), "auth.password.update_failed", map[string]any{
			"reason": auth.Message(err, "error"),
		})
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.updated", nil)
	writeSuccess(w, http.StatusOK, "Password updated successfully", nil)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	err := a.reset.RequestReset(r.Context(), req.Email)
	obs.ResetTotal.WithLabelValues("request", obs.Outcome(err)).Inc()
	if err != nil {
		fields := map[string]any{"email": auth.NormalizeEmail(req.Email)}
		if errors.Is(err, auth.ErrDelivery) {
			fields["reason"] = "delivery"
		}
		_ = audit.LogEvent(r.Context(), "auth.reset.request_failed", fields)
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset.requested", map[string]any{
		"email": auth.NormalizeEmail(req.Email),
	})
	writeSuccess(w, http.StatusOK, "Password reset link sent successfully", nil)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	err := a.reset.RedeemReset(r.Context(), req.Token, req.NewPassword)
	obs.ResetTotal.WithLabelValues("redeem", obs.Outcome(err)).Inc()
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.reset.redeem_failed", map[string]any{
			"reason": auth.Message(err, "error"),
		})
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset.redeemed", nil)
	writeSuccess(w, http.StatusOK, "Password reset successfully", nil)
}

// handleValidateResetToken lets the reset page check a link before asking
// for a new password.
func (a *API) handleValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req validateResetTokenRequest
	if !bind(w, r, &req) {
		return
	}
	err := a.reset.ValidateResetToken(r.Context(), req.Token)
	obs.ResetTotal.WithLabelValues("validate", obs.Outcome(err)).Inc()
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Reset token is valid", nil)
}
