//go:build integration

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/database/dbtest"
)

func TestPostgresRepository_InsertIsIdempotent(t *testing.T) {
	repo := NewPostgresRepository(dbtest.Pool(t))
	ctx := context.Background()
	owner := uuid.New()
	incident := uuid.New()
	at := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	entry := &Entry{
		ID:           uuid.New(),
		OwnerUserID:  owner,
		EventType:    "incident.created",
		Severity:     "error",
		ResourceType: "incident",
		ResourceID:   &incident,
		Details:      json.RawMessage(`{"type":"incident.created"}`),
		CreatedAt:    at,
	}
	require.NoError(t, repo.Insert(ctx, entry))
	require.NoError(t, repo.Insert(ctx, entry))
	require.NoError(t, repo.Insert(ctx, &Entry{OwnerUserID: owner, EventType: "incident.resolved", Severity: "info", CreatedAt: at.Add(time.Hour)}))

	all, total, err := repo.ListByOwner(ctx, owner, DefaultListParams())
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, all, 2)
	assert.Equal(t, "incident.resolved", all[0].EventType)

	byIncident, total, err := repo.ListByResource(ctx, owner, incident, DefaultListParams())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, byIncident, 1)
	assert.JSONEq(t, `{"type":"incident.created"}`, string(byIncident[0].Details))

	params := DefaultListParams()
	params.Severity = "error"
	from := at.Add(30 * time.Minute)
	params.From = &from
	filtered, total, err := repo.ListByOwner(ctx, owner, params)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.Empty(t, filtered)
}
