//go:build integration

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/database/dbtest"
)

func TestPostgresRepository_AppendOnlyHistory(t *testing.T) {
	repo := NewPostgresRepository(dbtest.Pool(t))
	ctx := context.Background()
	user := uuid.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	has, err := repo.HasSessions(ctx, user)
	require.NoError(t, err)
	assert.False(t, has)
	require.NoError(t, repo.MarkSessionStarted(ctx, user, at))
	require.NoError(t, repo.MarkSessionStarted(ctx, user, at.Add(time.Hour)))
	has, err = repo.HasSessions(ctx, user)
	require.NoError(t, err)
	assert.True(t, has)

	old := &LongTermMemory{UserID: user, MemoryType: TypePreferences, Key: "drink", Value: "tea",
		ExtractedAt: at, Importance: ImportanceMedium, Confidence: 0.8, LastAccessed: at}
	newer := &LongTermMemory{UserID: user, MemoryType: TypePreferences, Key: "drink", Value: "coffee",
		ExtractedAt: at.Add(24 * time.Hour), Importance: ImportanceMedium, Confidence: 0.9, LastAccessed: at}
	family := &LongTermMemory{UserID: user, MemoryType: TypeFamilyInfo, Key: "daughter", Value: "Sarah",
		ExtractedAt: at, Importance: ImportanceHigh, Confidence: 0.9, LastAccessed: at, Tags: []string{"family"}}
	for _, m := range []*LongTermMemory{old, newer, family} {
		require.NoError(t, repo.Insert(ctx, m))
	}

	latest, err := repo.Latest(ctx, user, TypePreferences, "drink")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "coffee", latest.Value)

	missing, err := repo.Latest(ctx, user, TypeRoutine, "walk")
	require.NoError(t, err)
	assert.Nil(t, missing)

	history, err := repo.History(ctx, user, TypePreferences, "drink")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "tea", history[1].Value)

	ranked, err := repo.Ranked(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "Sarah", ranked[0].Value)
	assert.Equal(t, "coffee", ranked[1].Value)

	touchedAt := at.Add(48 * time.Hour)
	require.NoError(t, repo.Touch(ctx, []uuid.UUID{family.ID}, touchedAt))
	ranked, err = repo.Ranked(ctx, user, 1)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, 1, ranked[0].AccessCount)
	assert.True(t, ranked[0].LastAccessed.Equal(touchedAt))
}
