package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/session"
)

// Handler exposes session lifecycle and turn processing over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler creates a new orchestrator handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type StartSessionRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

type SessionResponse struct {
	ID             string           `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	ConversationID uuid.UUID        `json:"conversation_id"`
	StartedAt      time.Time        `json:"started_at"`
	Settings       session.Settings `json:"settings"`
}

type TurnRequest struct {
	User      TurnInput `json:"user"`
	Assistant TurnInput `json:"assistant"`
}

// validateTurn applies the same checks to HTTP and JetStream turns.
func validateTurn(v *validator.Validate, req TurnRequest) error {
	if err := v.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTurn, err.Error())
	}
	if strings.TrimSpace(req.User.Transcript) == "" {
		return fmt.Errorf("%w: user transcript is required", ErrInvalidTurn)
	}
	return nil
}

// StartSession handles POST /api/v1/sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	active, err := h.svc.StartSession(r.Context(), uuid.MustParse(req.UserID))
	if err != nil {
		h.fail(w, err, "starting session", "user_id", req.UserID)
		return
	}

	api.JSON(w, http.StatusCreated, SessionResponse{
		ID:             active.ID,
		UserID:         active.UserID,
		ConversationID: active.ConversationID,
		StartedAt:      active.StartedAt,
		Settings:       active.Settings,
	})
}

// EndSession handles DELETE /api/v1/sessions/{sessionID}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.svc.EndSession(r.Context(), id); err != nil {
		h.fail(w, err, "ending session", "session_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessTurn handles POST /api/v1/sessions/{sessionID}/turns.
func (h *Handler) ProcessTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if err := validateTurn(h.validate, req); err != nil {
		h.fail(w, err, "validating turn", "session_id", id)
		return
	}

	active, err := h.svc.Session(r.Context(), id)
	if err != nil {
		h.fail(w, err, "loading session", "session_id", id)
		return
	}

	result, err := h.svc.ProcessTurn(r.Context(), active, req.User, req.Assistant)
	if err != nil {
		h.fail(w, err, "processing turn", "session_id", id)
		return
	}

	api.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, err error, msg string, args ...any) {
	code, appErr := classify(err)
	if code == CodeInternal {
		slog.Error(msg, append(args, "error", err)...)
	}
	api.HandleError(w, appErr)
}
