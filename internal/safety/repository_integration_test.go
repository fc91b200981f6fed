//go:build integration

package safety

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/database/dbtest"
)

func TestPostgresStore_DedupAndEscalation(t *testing.T) {
	store := NewPostgresStore(dbtest.Pool(t))
	tr, notifier, _, clock := newTestTracker(t, store)
	ctx := context.Background()
	conv := uuid.New()

	first, outcome, err := tr.Record(ctx, detection(conv, leavingHigh), DefaultSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	*clock = clock.Add(time.Minute)
	again, outcome, err := tr.Record(ctx, detection(conv, leavingHigh), DefaultSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeduplicated, outcome)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.DetectionCount)

	*clock = clock.Add(time.Minute)
	critical, outcome, err := tr.Record(ctx, detection(conv, leavingCrisis), DefaultSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, outcome)
	require.NotNil(t, critical.EscalatedFrom)
	assert.Equal(t, first.ID, *critical.EscalatedFrom)
	assert.Len(t, notifier.calls, 1)

	stored, err := store.Get(ctx, critical.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FamilyNotification)

	prev, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, prev.Status)

	open, err := store.ListOpen(ctx, first.UserID)
	require.NoError(t, err)
	assert.NotEmpty(t, open)
}

func TestPostgresStore_ResolveOnce(t *testing.T) {
	store := NewPostgresStore(dbtest.Pool(t))
	tr, _, _, _ := newTestTracker(t, store)
	ctx := context.Background()

	inc, _, err := tr.Record(ctx, detection(uuid.New(), forbiddenMatch), DefaultSettings(), nil)
	require.NoError(t, err)

	res := Resolution{ResolvedAt: baseTime.Add(time.Hour), ResolvedBy: "dana", Notes: "talked it through"}
	resolved, changed, err := store.Resolve(ctx, inc.ID, res)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "dana", resolved.Resolution.ResolvedBy)

	_, changed, err = store.Resolve(ctx, inc.ID, Resolution{ResolvedAt: baseTime.Add(2 * time.Hour), ResolvedBy: "eli"})
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
