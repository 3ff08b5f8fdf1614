package authz

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lancemakesmusic/m1a-authz/internal/platform/httpx"
)

// Handler exposes the role lifecycle operations over HTTP.
type Handler struct {
	logger     *slog.Logger
	resolver   *Resolver
	service    *Service
	activation *ActivationService
	validator  *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver, service *Service, activation *ActivationService) *Handler {
	return &Handler{
		logger:     logger,
		resolver:   resolver,
		service:    service,
		activation: activation,
		validator:  validator.New(),
	}
}

// MountRoutes registers the engine's routes. The router is expected to have
// the authentication middleware installed so a principal is in context.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.resolveSelf)
	r.Route("/admin", func(r chi.Router) {
		r.Get("/users", h.listUsers)
		r.Post("/accounts/employees", h.createEmployee)
		r.Post("/accounts/admins", h.createAdmin)
		r.Post("/users/{userID}/upgrade", h.upgradeUser)
		r.Post("/users/{userID}/revoke", h.revokeUser)
		r.Put("/users/{userID}/role", h.updateRole)
		r.Post("/users/{userID}/deactivate", h.deactivateUser)
		r.Post("/users/{userID}/reactivate", h.reactivateUser)
		r.Post("/employees/{userID}/deactivate", h.deactivateEmployee)
	})
}

type resolutionResponse struct {
	Role        string          `json:"role"`
	Status      string          `json:"status"`
	Permissions map[string]bool `json:"permissions"`
}

func (h *Handler) resolveSelf(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	resolution := h.resolver.Resolve(r.Context(), principal)
	httpx.JSON(w, http.StatusOK, resolutionResponse{
		Role:        string(resolution.Role),
		Status:      string(resolution.Status),
		Permissions: resolution.Permissions,
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	role := Role(r.URL.Query().Get("role"))
	records, err := h.service.ListUsersByRole(r.Context(), PrincipalFromContext(r.Context()), role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, newRecordResponse(record))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

type upgradeForm struct {
	Role       string `json:"role" validate:"required"`
	Department string `json:"department"`
}

func (h *Handler) upgradeUser(w http.ResponseWriter, r *http.Request) {
	var form upgradeForm
	if !h.decode(w, r, &form) {
		return
	}
	record, err := h.service.UpgradeUser(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"), Role(form.Role), EmployeeAssignment{Department: form.Department})
	h.respondRecord(w, record, err)
}

type newAccountForm struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"omitempty,min=8"`
	Department string `json:"department"`
}

func (h *Handler) createEmployee(w http.ResponseWriter, r *http.Request) {
	var form newAccountForm
	if !h.decode(w, r, &form) {
		return
	}
	record, err := h.service.CreateEmployeeAccount(r.Context(), PrincipalFromContext(r.Context()), NewAccount{
		Email:      form.Email,
		Password:   form.Password,
		Department: form.Department,
	})
	h.respondRecord(w, record, err)
}

func (h *Handler) createAdmin(w http.ResponseWriter, r *http.Request) {
	var form newAccountForm
	if !h.decode(w, r, &form) {
		return
	}
	record, err := h.service.CreateAdminAccount(r.Context(), PrincipalFromContext(r.Context()), NewAccount{
		Email:      form.Email,
		Password:   form.Password,
		Department: form.Department,
	})
	h.respondRecord(w, record, err)
}

func (h *Handler) revokeUser(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.RevokeUserRole(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"))
	h.respondRecord(w, record, err)
}

type updateRoleForm struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var form updateRoleForm
	if !h.decode(w, r, &form) {
		return
	}
	record, err := h.service.UpdateUserRole(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"), Role(form.Role))
	h.respondRecord(w, record, err)
}

func (h *Handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	record, err := h.activation.DeactivateUser(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"))
	h.respondRecord(w, record, err)
}

func (h *Handler) reactivateUser(w http.ResponseWriter, r *http.Request) {
	record, err := h.activation.ReactivateUser(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"))
	h.respondRecord(w, record, err)
}

func (h *Handler) deactivateEmployee(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.DeactivateEmployee(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"))
	h.respondRecord(w, record, err)
}

type recordResponse struct {
	UserID       string          `json:"user_id"`
	Email        string          `json:"email"`
	Role         string          `json:"role"`
	Status       string          `json:"status"`
	PreviousRole string          `json:"previous_role,omitempty"`
	EmployeeInfo *RoleInfo       `json:"employee_info,omitempty"`
	AdminInfo    *RoleInfo       `json:"admin_info,omitempty"`
	Overrides    map[string]bool `json:"overrides,omitempty"`
}

func newRecordResponse(record UserRoleRecord) recordResponse {
	return recordResponse{
		UserID:       record.UserID,
		Email:        record.Email,
		Role:         string(record.Role),
		Status:       string(record.Status),
		PreviousRole: string(record.PreviousRole),
		EmployeeInfo: record.EmployeeInfo,
		AdminInfo:    record.AdminInfo,
		Overrides:    record.Overrides,
	}
}

func (h *Handler) respondRecord(w http.ResponseWriter, record UserRoleRecord, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRecordResponse(record))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// respondError maps the engine's error taxonomy to RFC7807 responses. The
// wrapped rule text is passed through so an operator can see which predicate
// failed.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Unauthorized", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidArgument):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", err.Error())
	case errors.Is(err, ErrEmailExists):
		httpx.Problem(w, http.StatusConflict, "Email Already Registered", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, ErrImmutable), errors.Is(err, ErrProtected):
		httpx.Problem(w, http.StatusForbidden, "Target Not Modifiable", err.Error())
	case errors.Is(err, ErrIdentityProvider):
		httpx.Problem(w, http.StatusBadGateway, "Identity Provider Failure", err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
	default:
		h.logger.Error("unhandled authz error", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
