package orchestrator

import (
	"errors"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/safety"
	"github.com/aiox-platform/companion/internal/session"
)

// Error codes carried on TurnResultMessage.Code.
const (
	CodeConfigMissing    = "config_missing"
	CodeSessionNotFound  = "session_not_found"
	CodeScreeningFailure = "screening_failure"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

// ErrInvalidTurn marks a turn rejected before processing.
var ErrInvalidTurn = errors.New("invalid turn")

// classify maps a fatal turn or session error to a wire code and an HTTP error.
func classify(err error) (string, *api.AppError) {
	switch {
	case errors.Is(err, session.ErrConfigMissing):
		return CodeConfigMissing, api.NewUnprocessableError("user has no usable safety configuration; add safety rules to the companion profile")
	case errors.Is(err, session.ErrNotFound):
		return CodeSessionNotFound, api.NewNotFoundError("session not found or expired")
	case errors.Is(err, ErrInvalidTurn):
		return CodeInvalidRequest, api.NewValidationError(err.Error())
	case errors.Is(err, safety.ErrScreeningFailure):
		return CodeScreeningFailure, api.NewUnavailableError("safety screening failed; the turn was not processed")
	}
	return CodeInternal, api.ErrInternalServer
}
