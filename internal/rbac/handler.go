package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/toolgate/toolgate/internal/platform/httpx"
)

// Handler exposes role and permission administration.
type Handler struct {
	logger   *slog.Logger
	manager  *Manager
	validate *validator.Validate
	rbac     Middleware
}

func NewHandler(logger *slog.Logger, manager *Manager, rbacMW Middleware) *Handler {
	return &Handler{
		logger:   logger,
		manager:  manager,
		validate: validator.New(),
		rbac:     rbacMW,
	}
}

// MountRoutes registers the admin surface behind the manage_roles
// permission.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require("manage_roles"))
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Delete("/{id}", h.deleteRole)
		r.Get("/permissions", h.listPermissions)
		r.Post("/{id}/permissions", h.grantPermission)
		r.Delete("/{id}/permissions/{permID}", h.revokePermission)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=255"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var body createRoleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.manager.CreateRole(r.Context(), body.Name, body.Description)
	if err != nil {
		h.logger.Error("create role", slog.String("name", body.Name), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "role id must be numeric")
		return
	}
	switch err := h.manager.DeleteRole(r.Context(), id); {
	case errors.Is(err, ErrSystemRole):
		httpx.Problem(w, http.StatusConflict, "Conflict", "system roles cannot be deleted")
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "role not found")
	case err != nil:
		h.logger.Error("delete role", slog.Int64("id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.manager.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type grantRequest struct {
	PermissionID int64  `json:"permission_id" validate:"required"`
	Tool         string `json:"tool" validate:"required"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "role id must be numeric")
		return
	}
	var body grantRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.manager.GrantPermission(r.Context(), roleID, body.PermissionID, body.Tool); err != nil {
		h.logger.Error("grant permission",
			slog.Int64("role", roleID),
			slog.Int64("permission", body.PermissionID),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "role id must be numeric")
		return
	}
	permID, err := strconv.ParseInt(chi.URLParam(r, "permID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "permission id must be numeric")
		return
	}
	tool := r.URL.Query().Get("tool")
	if err := h.manager.RevokePermission(r.Context(), roleID, permID, tool); err != nil {
		h.logger.Error("revoke permission",
			slog.Int64("role", roleID),
			slog.Int64("permission", permID),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
