package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHandler(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/users/{userID}/memory", h.Get)
	r.Get("/users/{userID}/memory/history", h.History)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandler_GetUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := serveHandler(t, NewHandler(svc), "/users/"+uuid.NewString()+"/memory")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GetInvalidID(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := serveHandler(t, NewHandler(svc), "/users/nope/memory")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetDoesNotTouch(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, svc.BeginSession(ctx, userID))
	_, err := svc.Merge(ctx, userID, []Candidate{{MemoryType: TypeRoutine, Key: "routine.morning", Value: "walk", Importance: ImportanceMedium, Confidence: 0.8}})
	require.NoError(t, err)

	rec := serveHandler(t, NewHandler(svc), "/users/"+userID.String()+"/memory")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.LongTerm, 1)

	stored, err := repo.Latest(ctx, userID, TypeRoutine, "routine.morning")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AccessCount)
}

func TestHandler_HistoryValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := serveHandler(t, NewHandler(svc), "/users/"+uuid.NewString()+"/memory/history?type=gossip&key=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_History(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := svc.Merge(ctx, userID, []Candidate{{MemoryType: TypeMedicalInfo, Key: "medical.doctor", Value: "Cohen", Importance: ImportanceHigh, Confidence: 0.9}})
	require.NoError(t, err)

	rec := serveHandler(t, NewHandler(svc), "/users/"+userID.String()+"/memory/history?type=medical_info&key=medical.doctor")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []LongTermMemory `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "Cohen", body.Data[0].Value)
}
