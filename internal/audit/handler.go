package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/api"
)

// Handler provides HTTP handlers for the incident audit trail.
type Handler struct {
	repo Repository
}

// NewHandler creates a new audit Handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// List returns paginated audit entries for a user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return
	}

	params := parseListParams(r)

	var (
		entries []Entry
		total   int64
	)
	if rid := r.URL.Query().Get("resource_id"); rid != "" {
		resourceID, parseErr := uuid.Parse(rid)
		if parseErr != nil {
			api.HandleError(w, api.NewBadRequestError("invalid resource ID"))
			return
		}
		entries, total, err = h.repo.ListByResource(r.Context(), userID, resourceID, params)
	} else {
		entries, total, err = h.repo.ListByOwner(r.Context(), userID, params)
	}
	if err != nil {
		slog.Error("listing audit entries", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, entries, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) ListParams {
	params := DefaultListParams()
	q := r.URL.Query()

	if et := q.Get("event_type"); et != "" {
		params.EventType = et
	}
	if sev := q.Get("severity"); sev != "" {
		params.Severity = sev
	}
	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			params.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			params.To = &t
		}
	}

	return params
}
