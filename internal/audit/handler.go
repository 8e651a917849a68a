package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/internal/platform/httpx"
	"github.com/toolgate/toolgate/internal/rbac"
)

// Handler serves the audit timeline to administrators.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the audit HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW}
}

// MountRoutes registers the timeline route behind the audit permission.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require("view_audit"))
	r.Get("/", h.timeline)
}

type timelineRow struct {
	At         time.Time `json:"at"`
	UserID     string    `json:"user_id"`
	Tool       string    `json:"tool"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS *int64    `json:"duration_ms,omitempty"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := TimelineFilters{
		UserID: q.Get("user"),
		Tool:   q.Get("tool"),
		Status: q.Get("status"),
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.To = t
		}
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	rows := make([]timelineRow, 0, len(result.Rows))
	for _, e := range result.Rows {
		row := timelineRow{
			At: e.At, UserID: e.UserID, Tool: e.Tool, Action: e.Action,
			Status: string(e.Status), Error: e.Error,
		}
		if e.HasDuration {
			d := e.DurationMS
			row.DurationMS = &d
		}
		rows = append(rows, row)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"rows": rows,
		"paging": map[string]any{
			"page":      result.Paging.Page,
			"page_size": result.Paging.PageSize,
			"has_next":  result.Paging.HasNext,
		},
	})
}
