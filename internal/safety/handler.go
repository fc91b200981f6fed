package safety

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/api"
)

// Handler exposes incident review endpoints for the family-facing collaborators.
type Handler struct {
	tracker  *Tracker
	validate *validator.Validate
}

func NewHandler(tracker *Tracker) *Handler {
	return &Handler{
		tracker:  tracker,
		validate: validator.New(),
	}
}

type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"required,max=200"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// ResolveResponse reports the stored incident and whether this call resolved it.
// An unknown incident yields a nil Incident and Changed=false.
type ResolveResponse struct {
	Incident *Incident `json:"incident"`
	Changed  bool      `json:"changed"`
}

// List returns paginated incidents for a user, optionally filtered by status
// and severity. ?open=true returns every unresolved incident instead.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return
	}

	if r.URL.Query().Get("open") == "true" {
		incidents, err := h.tracker.ListOpen(r.Context(), userID)
		if err != nil {
			slog.Error("listing open incidents", "error", err, "user_id", userID)
			api.HandleError(w, api.ErrInternalServer)
			return
		}
		if incidents == nil {
			incidents = []Incident{}
		}
		api.JSON(w, http.StatusOK, incidents)
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	incidents, total, err := h.tracker.ListByUser(r.Context(), userID, params)
	if err != nil {
		slog.Error("listing incidents", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if incidents == nil {
		incidents = []Incident{}
	}

	api.JSONPaginated(w, http.StatusOK, incidents, total, params.Page, params.PageSize)
}

// Resolve transitions an incident to resolved. Repeated calls are no-ops.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	incidentID, err := uuid.Parse(chi.URLParam(r, "incidentID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid incident ID"))
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	inc, changed, err := h.tracker.Resolve(r.Context(), incidentID, req.ResolvedBy, req.Notes)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Info("resolve for unknown incident ignored", "incident_id", incidentID)
			api.JSON(w, http.StatusOK, ResolveResponse{})
			return
		}
		slog.Error("resolving incident", "error", err, "incident_id", incidentID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, ResolveResponse{Incident: inc, Changed: changed})
}

func parseListParams(r *http.Request) (ListParams, error) {
	params := DefaultListParams()
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		switch Status(s) {
		case StatusOpen, StatusEscalated, StatusResolved:
			params.Status = Status(s)
		default:
			return params, errors.New("status must be open, escalated or resolved")
		}
	}
	if sev := q.Get("severity"); sev != "" {
		if !Severity(sev).Valid() {
			return params, errors.New("severity must be critical, high or medium")
		}
		params.Severity = Severity(sev)
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
	return params, nil
}
