package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/safety"
	"github.com/aiox-platform/companion/internal/session"
)

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/sessions", h.StartSession)
	r.Delete("/api/v1/sessions/{sessionID}", h.EndSession)
	r.Post("/api/v1/sessions/{sessionID}/turns", h.ProcessTurn)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	router := newTestRouter(NewHandler(h.svc))
	userID := uuid.New()
	require.NoError(t, h.profiles.Upsert(context.Background(), &session.Profile{UserID: userID, SafetyRules: json.RawMessage(testRules)}))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sessions", StartSessionRequest{UserID: userID.String()})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data SessionResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, userID, created.Data.UserID)
	require.NotEmpty(t, created.Data.ID)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+created.Data.ID+"/turns", TurnRequest{
		User:      say("Let's talk about politics"),
		Assistant: say("Let's talk about your garden"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var turn struct {
		Data TurnResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&turn))
	assert.Equal(t, created.Data.ConversationID, turn.Data.ConversationID)
	require.Len(t, turn.Data.Incidents, 1)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/"+created.Data.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+created.Data.ID+"/turns", TurnRequest{User: say("hello")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StartSessionErrors(t *testing.T) {
	h := newHarness(t, nil)
	router := newTestRouter(NewHandler(h.svc))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sessions", StartSessionRequest{UserID: "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sessions", StartSessionRequest{UserID: uuid.NewString()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandler_TurnErrors(t *testing.T) {
	h := newHarness(t, nil)
	router := newTestRouter(NewHandler(h.svc))
	a := h.start(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+a.ID+"/turns", TurnRequest{User: say("  ")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sessions/unknown/turns", TurnRequest{User: say("hello")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassify_HTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("loading: %w", session.ErrConfigMissing), http.StatusUnprocessableEntity},
		{session.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("scan: %w", safety.ErrScreeningFailure), http.StatusServiceUnavailable},
		{errors.New("pool closed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		_, appErr := classify(tt.err)
		assert.Equal(t, tt.status, appErr.Code, tt.err.Error())
	}
}
