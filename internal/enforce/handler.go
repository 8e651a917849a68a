package enforce

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/toolgate/toolgate/internal/platform/httpx"
	"github.com/toolgate/toolgate/internal/shared"
)

// IdentityHeader carries the caller's identity. Absence downgrades to
// the guest identity.
const IdentityHeader = "X-Toolgate-User"

// Handler exposes tool invocation over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers the invocation endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.invoke)
}

type invokeRequest struct {
	Tool      string `json:"tool" validate:"required"`
	SessionID string `json:"session_id"`
	Args      Args   `json:"args"`
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request) {
	var body invokeRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user := r.Header.Get(IdentityHeader)
	if ident, ok := shared.IdentityFromContext(r.Context()); ok {
		user = ident.Name
	}

	resp, err := h.service.Invoke(r.Context(), Request{
		Tool:      body.Tool,
		User:      user,
		SessionID: body.SessionID,
		Args:      body.Args,
	})
	if err != nil {
		h.logger.Error("invoke failed",
			slog.String("tool", body.Tool),
			slog.String("user", user),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	if !resp.Allowed && resp.RetryAfterSec > 0 {
		httpx.RateLimited(w, time.Duration(resp.RetryAfterSec)*time.Second, resp.DenialReason)
		return
	}
	status := http.StatusOK
	if !resp.Allowed {
		status = http.StatusForbidden
	}
	httpx.JSON(w, status, resp)
}
