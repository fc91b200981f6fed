package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func turnAt(role Role, text string, at time.Time) ConversationTurn {
	return ConversationTurn{Role: role, Transcript: text, Timestamp: at}
}

func TestDeriveWorking_NeutralToSadFromEmotion(t *testing.T) {
	userID := uuid.New()
	prev := &WorkingMemory{UserID: userID, RecentMood: MoodNeutral}
	window := []ConversationTurn{
		turnAt(RoleUser, "good morning", baseTime.Add(-time.Minute)),
		{Role: RoleUser, Transcript: "I don't know", Timestamp: baseTime, Emotion: &Emotion{Primary: "sad", Confidence: 0.9}},
	}

	wm := DeriveWorking(userID, prev, window, nil, baseTime, 72*time.Hour)
	assert.Equal(t, MoodSad, wm.RecentMood)
	assert.Equal(t, userID, wm.UserID)
	assert.Equal(t, baseTime, wm.LastUpdated)
}

func TestDeriveWorking_LowConfidenceEmotionFallsBackToLexicon(t *testing.T) {
	window := []ConversationTurn{
		{Role: RoleUser, Transcript: "I am so worried about tomorrow", Timestamp: baseTime, Emotion: &Emotion{Primary: "happy", Confidence: 0.3}},
	}
	wm := DeriveWorking(uuid.New(), nil, window, nil, baseTime, 72*time.Hour)
	assert.Equal(t, MoodAnxious, wm.RecentMood)
}

func TestDeriveWorking_MostRecentEmotionWins(t *testing.T) {
	window := []ConversationTurn{
		{Role: RoleUser, Transcript: "a", Timestamp: baseTime.Add(-2 * time.Minute), Emotion: &Emotion{Primary: "sad", Confidence: 0.9}},
		{Role: RoleUser, Transcript: "b", Timestamp: baseTime, Emotion: &Emotion{Primary: "joy", Confidence: 0.8}},
	}
	wm := DeriveWorking(uuid.New(), nil, window, nil, baseTime, 72*time.Hour)
	assert.Equal(t, MoodHappy, wm.RecentMood)
}

func TestDeriveWorking_AssistantEmotionIgnored(t *testing.T) {
	prev := &WorkingMemory{RecentMood: MoodHappy}
	window := []ConversationTurn{
		{Role: RoleAssistant, Transcript: "ok", Timestamp: baseTime, Emotion: &Emotion{Primary: "sad", Confidence: 0.9}},
	}
	wm := DeriveWorking(uuid.New(), prev, window, nil, baseTime, 72*time.Hour)
	assert.Equal(t, MoodHappy, wm.RecentMood)
}

func TestDeriveWorking_DefaultsToNeutral(t *testing.T) {
	wm := DeriveWorking(uuid.New(), nil, nil, nil, baseTime, 72*time.Hour)
	assert.Equal(t, MoodNeutral, wm.RecentMood)
	assert.Empty(t, wm.RecentThemes)
	assert.Empty(t, wm.RecentActivities)
	assert.Empty(t, wm.UpcomingEvents)
}

func TestDeriveWorking_HebrewLexiconMood(t *testing.T) {
	window := []ConversationTurn{turnAt(RoleUser, "אני מתגעגעת לבת שלי", baseTime)}
	wm := DeriveWorking(uuid.New(), nil, window, nil, baseTime, 72*time.Hour)
	assert.Equal(t, MoodSad, wm.RecentMood)
}

func TestDeriveWorking_ThemesFrequencyThenRecency(t *testing.T) {
	window := []ConversationTurn{
		turnAt(RoleUser, "my daughter called", baseTime.Add(-5*time.Minute)),
		turnAt(RoleAssistant, "how is your family?", baseTime.Add(-4*time.Minute)),
		turnAt(RoleUser, "we listened to the radio", baseTime.Add(-3*time.Minute)),
		turnAt(RoleUser, "the doctor said it's fine", baseTime.Add(-2*time.Minute)),
	}
	wm := DeriveWorking(uuid.New(), nil, window, nil, baseTime, 72*time.Hour)
	require.Len(t, wm.RecentThemes, 3)
	assert.Equal(t, "family", wm.RecentThemes[0])
	assert.Equal(t, "health", wm.RecentThemes[1])
	assert.Equal(t, "music", wm.RecentThemes[2])
}

func TestDeriveWorking_ThemesCappedAtFive(t *testing.T) {
	window := []ConversationTurn{
		turnAt(RoleUser, "family doctor music garden soup park synagogue years ago", baseTime),
	}
	wm := DeriveWorking(uuid.New(), nil, window, nil, baseTime, 72*time.Hour)
	assert.Len(t, wm.RecentThemes, 5)
}

func TestDeriveWorking_ActivitiesWithinWindow(t *testing.T) {
	prev := &WorkingMemory{RecentActivities: []Activity{
		{Name: "walk", OccurredAt: baseTime.Add(-100 * time.Hour)},
		{Name: "reading", OccurredAt: baseTime.Add(-10 * time.Hour)},
	}}
	window := []ConversationTurn{
		turnAt(RoleUser, "I went to the Painting class today", baseTime.Add(-time.Hour)),
		turnAt(RoleUser, "then I baked", baseTime),
	}

	wm := DeriveWorking(uuid.New(), prev, window, []string{"Painting Class"}, baseTime, 72*time.Hour)
	names := make([]string, 0, len(wm.RecentActivities))
	for _, a := range wm.RecentActivities {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"cooking", "painting class", "reading"}, names)
}

func TestDeriveWorking_UpcomingEventsPruned(t *testing.T) {
	prev := &WorkingMemory{UpcomingEvents: []Event{
		{Description: "dentist", At: baseTime.Add(-time.Hour)},
		{Description: "concert", At: baseTime.Add(48 * time.Hour)},
	}}
	window := []ConversationTurn{turnAt(RoleUser, "My grandson visits tomorrow", baseTime)}

	wm := DeriveWorking(uuid.New(), prev, window, nil, baseTime, 72*time.Hour)
	require.Len(t, wm.UpcomingEvents, 2)
	assert.Equal(t, "My grandson visits tomorrow", wm.UpcomingEvents[0].Description)
	assert.Equal(t, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), wm.UpcomingEvents[0].At)
	assert.Equal(t, "concert", wm.UpcomingEvents[1].Description)
}

func TestDeriveWorking_Deterministic(t *testing.T) {
	window := []ConversationTurn{
		turnAt(RoleUser, "my son and the garden and music", baseTime),
	}
	a := DeriveWorking(uuid.Nil, nil, window, nil, baseTime, time.Hour)
	b := DeriveWorking(uuid.Nil, nil, window, nil, baseTime, time.Hour)
	assert.Equal(t, a, b)
}

func TestWorkingStore_RoundTrip(t *testing.T) {
	client, _ := setupMiniredis(t)
	store := NewWorkingStore(client)
	ctx := context.Background()
	userID := uuid.New()

	got, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, got)

	wm := &WorkingMemory{UserID: userID, LastUpdated: baseTime, RecentMood: MoodSad, RecentThemes: []string{"family"}}
	require.NoError(t, store.Save(ctx, wm))

	got, err = store.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, MoodSad, got.RecentMood)
	assert.Equal(t, []string{"family"}, got.RecentThemes)
	assert.True(t, baseTime.Equal(got.LastUpdated))
}

func TestWorkingStore_CorruptDocument(t *testing.T) {
	client, mr := setupMiniredis(t)
	store := NewWorkingStore(client)
	userID := uuid.New()
	require.NoError(t, mr.Set(workingKey(userID), "{broken"))

	_, err := store.Get(context.Background(), userID)
	assert.Error(t, err)
}
