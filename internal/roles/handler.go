package roles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/spacefolk/spacefolk/internal/content"
	"github.com/spacefolk/spacefolk/internal/permissions"
	"github.com/spacefolk/spacefolk/internal/platform/httpx"
	"github.com/spacefolk/spacefolk/internal/rbac"
	"github.com/spacefolk/spacefolk/internal/shared"
	"github.com/spacefolk/spacefolk/internal/spaces"
)

// Handler exposes the role lifecycle and grant operations as a JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *rbac.Resolver
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *rbac.Resolver) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		resolver: resolver,
		validate: validator.New(),
	}
}

// MountRoutes registers the role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createRole)
	r.Get("/{roleID}", h.getRole)
	r.Patch("/{roleID}", h.updateRole)
	r.Delete("/{roleID}", h.deleteRole)
	r.Get("/{roleID}/grants", h.listGrants)
	r.Post("/{roleID}/grants", h.grantRole)
	r.Delete("/{roleID}/grants", h.revokeRole)
}

// MountSpaceRoutes registers the space-scoped query routes consumed by other
// platform modules.
func (h *Handler) MountSpaceRoutes(r chi.Router) {
	r.Get("/{spaceID}/roles", h.listSpaceRoles)
	r.Get("/{spaceID}/accounts/{accountID}/permissions", h.effectivePermissions)
	r.Get("/{spaceID}/accounts/{accountID}/check", h.checkPermission)
}

type createRoleRequest struct {
	SpaceID     int64    `json:"space_id" validate:"required,gt=0"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
	Disabled    bool     `json:"disabled"`
	ContentRef  string   `json:"content_ref"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}

	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perms, err := permissions.FromNames(req.Permissions)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	role, err := h.service.CreateRole(r.Context(), caller, CreateRoleInput{
		SpaceID:     req.SpaceID,
		Permissions: perms,
		Disabled:    req.Disabled,
		ContentRef:  req.ContentRef,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type updateRoleRequest struct {
	AddPermissions    []string `json:"add_permissions"`
	RemovePermissions []string `json:"remove_permissions"`
	Disabled          *bool    `json:"disabled"`
	ContentRef        *string  `json:"content_ref"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}

	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	add, err := permissions.FromNames(req.AddPermissions)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	remove, err := permissions.FromNames(req.RemovePermissions)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	role, err := h.service.UpdateRole(r.Context(), caller, roleID, RoleUpdate{
		AddPermissions:    add,
		RemovePermissions: remove,
		Disabled:          req.Disabled,
		ContentRef:        req.ContentRef,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), caller, roleID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	accounts, err := h.service.GrantedAccounts(r.Context(), roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if accounts == nil {
		accounts = []int64{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

type grantRequest struct {
	Accounts []int64 `json:"accounts" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) grantRole(w http.ResponseWriter, r *http.Request) {
	h.mutateGrants(w, r, h.service.GrantRole, "granted")
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	h.mutateGrants(w, r, h.service.RevokeRole, "revoked")
}

type grantOp func(ctx context.Context, caller, roleID int64, accounts []int64) (int, error)

func (h *Handler) mutateGrants(w http.ResponseWriter, r *http.Request, op grantOp, field string) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}

	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	count, err := op(r.Context(), caller, roleID, req.Accounts)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{field: count})
}

func (h *Handler) listSpaceRoles(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := h.pathID(w, r, "spaceID")
	if !ok {
		return
	}
	roles, err := h.service.SpaceRoles(r.Context(), spaceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := h.pathID(w, r, "spaceID")
	if !ok {
		return
	}
	accountID, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	effective, err := h.resolver.EffectivePermissions(r.Context(), accountID, spaceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": effective})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := h.pathID(w, r, "spaceID")
	if !ok {
		return
	}
	accountID, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	perm, err := permissions.Parse(r.URL.Query().Get("permission"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	allowed, err := h.resolver.Resolve(r.Context(), accountID, spaceID, perm)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id < 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrEmptyPermissionSet), errors.Is(err, ErrEmptyAccountList), errors.Is(err, ErrNoChangeRequested):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, content.ErrInvalidRef):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, spaces.ErrSpaceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("roles handler", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
