package approval

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/platform/httpx"
	"github.com/toolgate/toolgate/internal/rbac"
	"github.com/toolgate/toolgate/internal/shared"
)

// Handler exposes the approval administration surface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds the approvals HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers approval routes behind the approvals permission.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require("manage_approvals"))
	r.Get("/", h.list)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
}

type requestResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Tool        string     `json:"tool"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Responder   string     `json:"responder,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func toResponse(r Request) requestResponse {
	return requestResponse{
		ID: r.ID.String(), UserID: r.UserID, Tool: r.Tool, Role: r.Role,
		Status: string(r.Status), RequestedAt: r.RequestedAt, ExpiresAt: r.ExpiresAt,
		Responder: r.Responder, Reason: r.Reason, RespondedAt: r.RespondedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.service.List(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("list approvals", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]requestResponse, 0, len(list))
	for _, req := range list {
		out = append(out, toResponse(req))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, StatusApproved)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, StatusRejected)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, to Status) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	var body resolveRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	responder := shared.GuestIdentity
	if ident, ok := shared.IdentityFromContext(r.Context()); ok {
		responder = ident.Name
	}

	var resolveErr error
	if to == StatusApproved {
		resolveErr = h.service.Approve(r.Context(), id, responder, body.Reason)
	} else {
		resolveErr = h.service.Reject(r.Context(), id, responder, body.Reason)
	}
	if resolveErr != nil {
		if status, ok := IsAlreadyResolved(resolveErr); ok {
			httpx.Problem(w, http.StatusConflict, "Already Resolved", "request already "+string(status))
			return
		}
		if errors.Is(resolveErr, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "approval request not found")
			return
		}
		h.logger.Error("resolve approval", slog.Any("error", resolveErr))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(to)})
}
