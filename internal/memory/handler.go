package memory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/api"
)

// Handler handles memory inspection endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler creates a new memory handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// HistoryQuery selects one fact's version history.
type HistoryQuery struct {
	Type string `validate:"required,oneof=family_info medical_info preferences routine personal_history"`
	Key  string `validate:"required,max=200"`
}

// Get returns the user's memory snapshot without bumping access counters.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return
	}

	defaults := h.svc.Defaults()
	limit := defaults.LongTermLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	snap, err := h.svc.Peek(r.Context(), userID, defaults.ShortTermTurns, limit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			api.HandleError(w, api.NewNotFoundError("user has no sessions"))
			return
		}
		slog.Error("loading memory snapshot", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, snap)
}

// History returns every version of a fact, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return
	}

	q := HistoryQuery{
		Type: r.URL.Query().Get("type"),
		Key:  r.URL.Query().Get("key"),
	}
	if err := h.validate.Struct(q); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	versions, err := h.svc.History(r.Context(), userID, MemoryType(q.Type), q.Key)
	if err != nil {
		slog.Error("listing memory history", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if versions == nil {
		versions = []LongTermMemory{}
	}

	api.JSON(w, http.StatusOK, versions)
}
