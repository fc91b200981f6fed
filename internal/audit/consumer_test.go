package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/aiox-platform/companion/internal/nats"
)

func TestToEntry_ValidResourceID(t *testing.T) {
	incidentID := uuid.New()
	eventID := ulid.Make()
	event := inats.AuditEvent{
		EventID:      eventID.String(),
		OwnerUserID:  uuid.New(),
		EventType:    "incident.created",
		Severity:     "error",
		ResourceType: "safety_incident",
		ResourceID:   incidentID.String(),
		Details:      json.RawMessage(`{"type":"incident.created"}`),
		Timestamp:    time.Now().UTC(),
	}

	entry := toEntry(event)

	assert.Equal(t, uuid.UUID(eventID), entry.ID)
	assert.Equal(t, event.OwnerUserID, entry.OwnerUserID)
	assert.Equal(t, "incident.created", entry.EventType)
	assert.Equal(t, "error", entry.Severity)
	assert.Equal(t, "safety_incident", entry.ResourceType)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, incidentID, *entry.ResourceID)
	assert.JSONEq(t, `{"type":"incident.created"}`, string(entry.Details))
}

func TestToEntry_InvalidFields(t *testing.T) {
	event := inats.AuditEvent{
		EventID:     "not-a-ulid",
		OwnerUserID: uuid.New(),
		EventType:   "incident.resolved",
		Severity:    "info",
		ResourceID:  "not-a-uuid",
		Details:     json.RawMessage(`{broken`),
		Timestamp:   time.Now().UTC(),
	}

	entry := toEntry(event)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Nil(t, entry.ResourceID)
	assert.JSONEq(t, `{}`, string(entry.Details))
}

func TestPersist_ReplayIsIgnored(t *testing.T) {
	repo := NewInMemoryRepository()
	c := NewConsumer(repo, nil)
	ctx := context.Background()
	owner := uuid.New()
	incidentID := uuid.New()

	event := inats.AuditEvent{
		EventID:      ulid.Make().String(),
		OwnerUserID:  owner,
		EventType:    "incident.created",
		Severity:     "warn",
		ResourceType: "safety_incident",
		ResourceID:   incidentID.String(),
		Timestamp:    time.Now().UTC(),
	}
	require.NoError(t, c.persist(ctx, event))
	require.NoError(t, c.persist(ctx, event))

	entries, total, err := repo.ListByOwner(ctx, owner, DefaultListParams())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)

	entries, _, err = repo.ListByResource(ctx, owner, incidentID, DefaultListParams())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, _, err = repo.ListByResource(ctx, owner, uuid.New(), DefaultListParams())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
