package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"edudesk.io/internal/audit"
	"edudesk.io/internal/auth"
	"edudesk.io/internal/school"
)

type createSchoolRequest struct {
	RegistrationNumber string `json:"registrationNumber" validate:"required,max=50"`
	Email              string `json:"email" validate:"omitempty,email"`
	Website            string `json:"website"`
	Name               string `json:"name" validate:"required,max=100"`
	Address            string `json:"address"`
	Phone              string `json:"phone"`
	EstablishedYear    *int   `json:"establishedYear" validate:"omitempty,min=1800"`
}

type updateSchoolRequest struct {
	RegistrationNumber *string `json:"registrationNumber" validate:"omitempty,max=50"`
	Email              *string `json:"email" validate:"omitempty,email"`
	Website            *string `json:"website"`
	Name               *string `json:"name" validate:"omitempty,max=100"`
	Address            *string `json:"address"`
	Phone              *string `json:"phone"`
	EstablishedYear    *int    `json:"establishedYear" validate:"omitempty,min=1800"`
}

func (a *API) handleCreateSchool(w http.ResponseWriter, r *http.Request) {
	var req createSchoolRequest
	if !bind(w, r, &req) {
		return
	}
	sc, err := a.schools.Create(r.Context(), school.NewSchool{
		RegistrationNumber: req.RegistrationNumber,
		Name:               req.Name,
		Email:              req.Email,
		Website:            req.Website,
		Address:            req.Address,
		Phone:              req.Phone,
		EstablishedYear:    req.EstablishedYear,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "school.created", map[string]any{
		"school_id":           sc.ID,
		"registration_number": sc.RegistrationNumber,
	})
	writeSuccess(w, http.StatusCreated, "School created successfully", sc)
}

func (a *API) handleListSchools(w http.ResponseWriter, r *http.Request) {
	list, err := a.schools.List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "List of schools retrieved successfully", list)
}

func (a *API) handleGetSchool(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "User not authenticated", nil)
		return
	}
	sc, err := a.schools.Get(r.Context(), id.Principal, strings.TrimSpace(mux.Vars(r)["id"]))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "School retrieved successfully", sc)
}

func (a *API) handleUpdateSchool(w http.ResponseWriter, r *http.Request) {
	var req updateSchoolRequest
	if !bind(w, r, &req) {
		return
	}
	sc, err := a.schools.Update(r.Context(), strings.TrimSpace(mux.Vars(r)["id"]), school.Patch{
		RegistrationNumber: req.RegistrationNumber,
		Name:               req.Name,
		Email:              req.Email,
		Website:            req.Website,
		Address:            req.Address,
		Phone:              req.Phone,
		EstablishedYear:    req.EstablishedYear,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "school.updated", map[string]any{"school_id": sc.ID})
	writeSuccess(w, http.StatusOK, "School updated successfully", sc)
}

func (a *API) handleDeleteSchool(w http.ResponseWriter, r *http.Request) {
	schoolID := strings.TrimSpace(mux.Vars(r)["id"])
	if err := a.schools.Delete(r.Context(), schoolID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "school.deleted", map[string]any{"school_id": schoolID})
	writeSuccess(w, http.StatusOK, "School deleted successfully", nil)
}
