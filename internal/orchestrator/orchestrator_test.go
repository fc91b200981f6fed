package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/photos"
	"github.com/aiox-platform/companion/internal/safety"
	"github.com/aiox-platform/companion/internal/session"
)

const testRules = `{
	"crisis_triggers": ["leave home alone", "לצאת לבד"],
	"forbidden_topics": ["politics"],
	"approved_activities": ["choir"],
	"redirect_to_family": ["my pension"],
	"recipients": [{"name": "Dana", "relation": "daughter", "channel": "sms", "address": "+972500000000"}]
}`

type recordingNotifier struct {
	calls []uuid.UUID
}

func (n *recordingNotifier) Notify(_ context.Context, inc *safety.Incident, _ []safety.Recipient) (string, error) {
	n.calls = append(n.calls, inc.ID)
	return "msg-" + inc.ID.String(), nil
}

// failingLatestRepo breaks fact merging while leaving reads intact.
type failingLatestRepo struct {
	*memory.InMemoryRepository
}

func (r failingLatestRepo) Latest(context.Context, uuid.UUID, memory.MemoryType, string) (*memory.LongTermMemory, error) {
	return nil, errors.New("connection reset by peer")
}

type harness struct {
	svc       *Service
	profiles  *session.InMemoryProfileRepository
	incidents *safety.InMemoryStore
	photos    *photos.InMemoryRepository
	notifier  *recordingNotifier
	memory    *memory.Service
}

func newHarness(t *testing.T, memRepo memory.Repository) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	if memRepo == nil {
		memRepo = memory.NewInMemoryRepository()
	}
	memSvc := memory.NewService(memRepo, memory.NewShortTermStore(client), memory.NewWorkingStore(client), memory.NewRuleExtractor(), memory.DefaultConfig())

	store, err := session.NewStore(session.StoreTypeRedis, client, time.Hour)
	require.NoError(t, err)
	profiles := session.NewInMemoryProfileRepository()
	manager, err := session.NewManager(profiles, store, session.DefaultSettings(), 100)
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	incidents := safety.NewInMemoryStore()
	notifier := &recordingNotifier{}
	tracker := safety.NewTracker(incidents, notifier, nil)

	photoRepo := photos.NewInMemoryRepository()
	engine := photos.NewEngine(photoRepo, photos.NewStaticResolver("https://media.example"), manager)

	return &harness{
		svc:       NewService(manager, tracker, memSvc, engine),
		profiles:  profiles,
		incidents: incidents,
		photos:    photoRepo,
		notifier:  notifier,
		memory:    memSvc,
	}
}

func (h *harness) start(t *testing.T) *session.Active {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, h.profiles.Upsert(ctx, &session.Profile{UserID: userID, SafetyRules: json.RawMessage(testRules)}))
	active, err := h.svc.StartSession(ctx, userID)
	require.NoError(t, err)
	return active
}

func say(text string) TurnInput {
	return TurnInput{Transcript: text}
}

func TestStartSession_ConfigMissing(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.StartSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, session.ErrConfigMissing)
}

func TestProcessTurn_HebrewLeavingHomeBlocksAndNotifies(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.start(t)

	res, err := h.svc.ProcessTurn(ctx, a, say("אני רוצה לצאת לבד לחפש את צביה"), say("בואי נתקשר לדנה קודם"))
	require.NoError(t, err)

	require.Len(t, res.Incidents, 1)
	inc := res.Incidents[0]
	assert.Equal(t, safety.SeverityCritical, inc.Severity)
	assert.Equal(t, safety.TypeLeavingHomeAlone, inc.IncidentType)
	assert.Equal(t, safety.RoleUser, inc.Role)
	assert.True(t, inc.Notified)
	assert.Equal(t, []uuid.UUID{inc.ID}, h.notifier.calls)

	assert.True(t, res.Blocked)
	assert.Nil(t, res.PhotoEvent)
	assert.NotNil(t, res.Working, "memory still updates on a blocked turn")
	assert.Empty(t, res.Enrichment)

	stored, err := h.incidents.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ConversationID, stored.ConversationID)
	assert.Equal(t, res.TurnID, stored.TurnID)
}

func TestProcessTurn_ScreensAssistantResponse(t *testing.T) {
	h := newHarness(t, nil)
	a := h.start(t)

	res, err := h.svc.ProcessTurn(context.Background(), a, say("I'm bored"), say("Maybe you could leave home alone for a walk"))
	require.NoError(t, err)
	require.Len(t, res.Incidents, 1)
	assert.Equal(t, safety.RoleAssistant, res.Incidents[0].Role)
	assert.True(t, res.Blocked)
}

func TestProcessTurn_RepeatedTopicDeduplicates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.start(t)

	first, err := h.svc.ProcessTurn(ctx, a, say("Let's talk about politics"), say("How about the garden?"))
	require.NoError(t, err)
	second, err := h.svc.ProcessTurn(ctx, a, say("No, POLITICS please"), say("Tell me about your roses"))
	require.NoError(t, err)

	require.Len(t, first.Incidents, 1)
	require.Len(t, second.Incidents, 1)
	assert.Equal(t, safety.OutcomeCreated, first.Incidents[0].Outcome)
	assert.Equal(t, safety.OutcomeDeduplicated, second.Incidents[0].Outcome)
	assert.Equal(t, first.Incidents[0].ID, second.Incidents[0].ID)
	assert.False(t, second.Blocked)
	assert.Greater(t, second.TurnID, first.TurnID)

	stored, err := h.incidents.Get(ctx, first.Incidents[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.DetectionCount)
}

func TestProcessTurn_ScreeningFailureAborts(t *testing.T) {
	h := newHarness(t, nil)
	a := h.start(t)

	_, err := h.svc.ProcessTurn(context.Background(), a, say("hello \xff"), say("hi"))
	assert.ErrorIs(t, err, safety.ErrScreeningFailure)

	snap, err := h.memory.Peek(context.Background(), a.UserID, 20, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.ShortTerm)
}

func TestProcessTurn_FamilyMentionSkipsRecentlyShown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.start(t)

	_, err := h.memory.Merge(ctx, a.UserID, []memory.Candidate{
		{MemoryType: memory.TypeFamilyInfo, Key: "family.daughter:sarah", Value: "Sarah", Importance: memory.ImportanceHigh, Confidence: 0.9},
	})
	require.NoError(t, err)

	twoHoursAgo := time.Now().Add(-2 * time.Hour)
	recent := photos.Photo{ID: uuid.New(), UserID: a.UserID, BlobRef: "sarah-beach.jpg", ManualTags: []string{"Sarah", "beach"}, LastShownAt: &twoHoursAgo, ShownCount: 1}
	fresh := photos.Photo{ID: uuid.New(), UserID: a.UserID, BlobRef: "sarah-wedding.jpg", ManualTags: []string{"Sarah", "wedding"}}
	other := photos.Photo{ID: uuid.New(), UserID: a.UserID, BlobRef: "david.jpg", ManualTags: []string{"David"}}
	h.photos.Add(recent)
	h.photos.Add(fresh)
	h.photos.Add(other)

	res, err := h.svc.ProcessTurn(ctx, a, say("I was thinking about Sarah today"), say("Sarah sounds lovely"))
	require.NoError(t, err)
	require.NotNil(t, res.PhotoEvent)
	assert.Equal(t, photos.ReasonFamilyMention, res.PhotoEvent.TriggerReason)
	assert.Equal(t, []string{"Sarah"}, res.PhotoEvent.MentionedNames)
	assert.Equal(t, []uuid.UUID{fresh.ID}, res.PhotoEvent.PhotoIDs)
	assert.Equal(t, "https://media.example/sarah-wedding.jpg", res.PhotoEvent.Photos[0].URL)
	assert.Equal(t, "I was thinking about Sarah today", res.PhotoEvent.Context)

	shown, ok := h.photos.Get(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, 1, shown.ShownCount)
}

func TestProcessTurn_PlainTagsAreNotPeople(t *testing.T) {
	h := newHarness(t, nil)
	a := h.start(t)
	h.photos.Add(photos.Photo{ID: uuid.New(), UserID: a.UserID, BlobRef: "party.jpg", ManualTags: []string{"happy", "beach"}})

	res, err := h.svc.ProcessTurn(context.Background(), a, say("I'm happy today"), say("Glad to hear it"))
	require.NoError(t, err)
	assert.Nil(t, res.PhotoEvent)
}

func TestProcessTurn_LongConversationFiresOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.start(t)
	h.photos.Add(photos.Photo{ID: uuid.New(), UserID: a.UserID, BlobRef: "garden.jpg", ManualTags: []string{"garden"}})
	h.photos.Add(photos.Photo{ID: uuid.New(), UserID: a.UserID, BlobRef: "kitchen.jpg", ManualTags: []string{"kitchen"}})

	later := TurnInput{Transcript: "We had soup for lunch", Timestamp: a.StartedAt.Add(20 * time.Minute)}
	res, err := h.svc.ProcessTurn(ctx, a, later, say("That sounds warm"))
	require.NoError(t, err)
	require.NotNil(t, res.PhotoEvent)
	assert.Equal(t, photos.ReasonLongConversation, res.PhotoEvent.TriggerReason)

	later.Timestamp = later.Timestamp.Add(time.Minute)
	res, err = h.svc.ProcessTurn(ctx, a, later, say("Was it tomato?"))
	require.NoError(t, err)
	assert.Nil(t, res.PhotoEvent)
}

func TestProcessTurn_HintsAndWorkingMemory(t *testing.T) {
	h := newHarness(t, nil)
	a := h.start(t)

	res, err := h.svc.ProcessTurn(context.Background(), a,
		TurnInput{Transcript: "I went to the choir but I worry about my pension", Emotion: &memory.Emotion{Primary: "sad", Confidence: 0.8}},
		say("Dana can help with that"))
	require.NoError(t, err)
	assert.Equal(t, "my pension", res.RedirectTopic)
	assert.Equal(t, []string{"choir"}, res.ApprovedActivities)
	require.NotNil(t, res.Working)
	assert.Equal(t, memory.MoodSad, res.Working.RecentMood)
	assert.Contains(t, res.Working.RecentActivities, "choir")
	assert.Empty(t, res.Incidents)
}

func TestProcessTurn_MemoryFailureIsDropped(t *testing.T) {
	h := newHarness(t, failingLatestRepo{memory.NewInMemoryRepository()})
	a := h.start(t)

	res, err := h.svc.ProcessTurn(context.Background(), a, say("My daughter's name is Sarah"), say("What a lovely name"))
	require.NoError(t, err)
	assert.Equal(t, []string{StepMemory}, res.Enrichment)
	assert.Nil(t, res.Working)
	assert.Nil(t, res.Memory)

	var enrichErr *EnrichmentError
	err = &EnrichmentError{Step: StepMemory, Err: errors.New("boom")}
	require.ErrorAs(t, err, &enrichErr)
	assert.Equal(t, "enrichment memory: boom", enrichErr.Error())
}

func TestProcessTurn_CancelledContextStillRecordsIncident(t *testing.T) {
	h := newHarness(t, nil)
	a := h.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.svc.ProcessTurn(ctx, a, say("I will leave home alone"), say("Please wait"))
	require.NoError(t, err)
	require.Len(t, res.Incidents, 1)
	assert.Len(t, h.notifier.calls, 1)
	assert.Contains(t, res.Enrichment, StepMemory)
}
