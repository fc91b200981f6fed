package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/metrics"
	"github.com/aiox-platform/companion/internal/photos"
	"github.com/aiox-platform/companion/internal/safety"
	"github.com/aiox-platform/companion/internal/session"
	"github.com/aiox-platform/companion/internal/textnorm"
)

const photoContextRunes = 200

// Service runs the per-turn pipeline: safety screening first, then memory
// and photo enrichment side by side.
type Service struct {
	sessions *session.Manager
	tracker  *safety.Tracker
	memory   *memory.Service
	photos   *photos.Engine
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a new orchestrator Service.
func NewService(sessions *session.Manager, tracker *safety.Tracker, mem *memory.Service, engine *photos.Engine) *Service {
	return &Service{
		sessions: sessions,
		tracker:  tracker,
		memory:   mem,
		photos:   engine,
		validate: validator.New(),
		now:      time.Now,
	}
}

// StartSession opens a session for the user and marks them known to the
// memory store.
func (s *Service) StartSession(ctx context.Context, userID uuid.UUID) (*session.Active, error) {
	active, err := s.sessions.Start(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.memory.BeginSession(ctx, userID); err != nil {
		if endErr := s.sessions.End(context.WithoutCancel(ctx), active.ID); endErr != nil {
			slog.Warn("ending half-started session", "error", endErr, "session_id", active.ID)
		}
		return nil, fmt.Errorf("beginning memory session: %w", err)
	}
	return active, nil
}

// Session loads a live session.
func (s *Service) Session(ctx context.Context, id string) (*session.Active, error) {
	return s.sessions.Get(ctx, id)
}

// EndSession closes a session. Unknown sessions are ignored.
func (s *Service) EndSession(ctx context.Context, id string) error {
	return s.sessions.End(ctx, id)
}

// ProcessTurn screens both sides of the exchange, records incidents, then
// updates memory and selects photos. Screening and incident recording run to
// completion even if ctx is cancelled; their failure aborts the turn.
// Enrichment failures are logged and reported in TurnResult.Enrichment.
func (s *Service) ProcessTurn(ctx context.Context, a *session.Active, user, assistant TurnInput) (*TurnResult, error) {
	start := s.now()
	safeCtx := context.WithoutCancel(ctx)

	turnID, err := s.sessions.NextTurnID(safeCtx, a)
	if err != nil {
		metrics.TurnsProcessedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("allocating turn id: %w", err)
	}
	userTurn := user.turn(a.ConversationID, turnID, memory.RoleUser, start)
	assistantTurn := assistant.turn(a.ConversationID, turnID, memory.RoleAssistant, start)

	result := &TurnResult{
		ConversationID: a.ConversationID,
		TurnID:         turnID,
		Incidents:      []IncidentSummary{},
	}

	if err := s.screen(safeCtx, a, userTurn, assistantTurn, result); err != nil {
		outcome := "error"
		if errors.Is(err, safety.ErrScreeningFailure) {
			outcome = "screening_failed"
		}
		metrics.TurnsProcessedTotal.WithLabelValues(outcome).Inc()
		slog.Error("screening turn", "error", err, "session_id", a.ID, "turn_id", turnID)
		return nil, err
	}

	result.RedirectTopic = a.Policy.RedirectTopic(userTurn.Transcript)
	result.ApprovedActivities = a.Policy.ApprovedMentions(userTurn.Transcript)

	s.enrich(ctx, a, userTurn, assistantTurn, result)

	if err := s.sessions.RecordTurn(ctx, a, userTurn.Timestamp); err != nil {
		s.enrichmentFailed(result, a, &EnrichmentError{Step: StepSession, Err: err})
	}

	outcome := "ok"
	if result.Blocked {
		outcome = "blocked"
	}
	metrics.TurnsProcessedTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(s.now().Sub(start).Seconds())

	slog.Debug("turn processed",
		"session_id", a.ID,
		"turn_id", turnID,
		"incidents", len(result.Incidents),
		"blocked", result.Blocked,
		"photos", result.PhotoEvent != nil,
	)
	return result, nil
}

// screen scans the user text, then the assistant text, and records one
// detection per side that matched.
func (s *Service) screen(ctx context.Context, a *session.Active, userTurn, assistantTurn memory.ConversationTurn, result *TurnResult) error {
	sides := []struct {
		role safety.Role
		text string
	}{
		{safety.RoleUser, userTurn.Transcript},
		{safety.RoleAssistant, assistantTurn.Transcript},
	}

	for _, side := range sides {
		match, err := a.Policy.Scan(side.text, side.role)
		if err != nil {
			return err
		}
		if match == nil {
			continue
		}

		det := safety.Detection{
			Match:          *match,
			UserID:         a.UserID,
			ConversationID: a.ConversationID,
			TurnID:         userTurn.TurnID,
			Context: safety.IncidentContext{
				UserRequest: userTurn.Transcript,
				AIResponse:  assistantTurn.Transcript,
			},
		}
		inc, outcome, err := s.tracker.Record(ctx, det, a.Settings.Safety, a.Policy.Recipients())
		if err != nil {
			return err
		}

		result.Incidents = append(result.Incidents, IncidentSummary{
			ID:           inc.ID,
			IncidentType: inc.IncidentType,
			Severity:     inc.Severity,
			Outcome:      outcome,
			RuleID:       match.RuleID,
			Reason:       match.Reason,
			Role:         side.role,
			Notified:     inc.FamilyNotification != nil && inc.FamilyNotification.Status == safety.NotificationQueued,
		})
		if match.Severity == safety.SeverityCritical {
			result.Blocked = true
		}
	}
	return nil
}

// enrich runs memory and photo selection concurrently. A blocked turn skips
// photo selection so nothing is marked shown that the user never saw.
func (s *Service) enrich(ctx context.Context, a *session.Active, userTurn, assistantTurn memory.ConversationTurn, result *TurnResult) {
	approved := textnorm.NormalizeAll(a.Policy.ApprovedActivities())

	var (
		wg       sync.WaitGroup
		update   *memory.TurnUpdate
		memErr   error
		event    *PhotoEvent
		photoErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		update, memErr = s.memory.ProcessTurn(ctx, a.UserID, userTurn, assistantTurn, approved, a.Settings.Memory)
	}()

	if !result.Blocked {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event, photoErr = s.selectPhotos(ctx, a, userTurn)
		}()
	}

	wg.Wait()

	if memErr != nil {
		s.enrichmentFailed(result, a, &EnrichmentError{Step: StepMemory, Err: memErr})
	} else if update != nil {
		result.Working = summarizeWorking(update.Working)
		merge := update.Merge
		result.Memory = &merge
		metrics.MemoriesMergedTotal.WithLabelValues("inserted").Add(float64(merge.Inserted))
		metrics.MemoriesMergedTotal.WithLabelValues("touched").Add(float64(merge.Touched))
	}

	if photoErr != nil {
		s.enrichmentFailed(result, a, &EnrichmentError{Step: StepPhotos, Err: photoErr})
	} else if event != nil {
		event.EmotionalState = emotionalState(userTurn, result.Working)
		result.PhotoEvent = event
	}
}

func (s *Service) selectPhotos(ctx context.Context, a *session.Active, userTurn memory.ConversationTurn) (*PhotoEvent, error) {
	settings := a.Settings.Photos

	fired, err := s.sessions.LongConversationFired(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("reading long conversation latch: %w", err)
	}
	people, err := s.memory.FamilyNames(ctx, a.UserID)
	if err != nil {
		return nil, err
	}

	trig, ok := photos.DetectTrigger(photos.TriggerInput{
		Text:                  userTurn.Transcript,
		Emotion:               userTurn.Emotion,
		Elapsed:               a.Elapsed(userTurn.Timestamp),
		KnownPeople:           people,
		LongConversationFired: fired,
		LongConversationAfter: settings.LongConversationAfter(),
	})
	if !ok {
		return nil, nil
	}

	if trig.Reason == photos.ReasonLongConversation {
		first, err := s.sessions.MarkLongConversation(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("setting long conversation latch: %w", err)
		}
		if !first {
			return nil, nil
		}
	}

	shown, err := s.photos.Select(ctx, photos.SelectRequest{
		UserID:         a.UserID,
		SessionID:      a.ID,
		Reason:         trig.Reason,
		MentionedNames: trig.MentionedNames,
	}, settings)
	if err != nil {
		return nil, err
	}
	if len(shown) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(shown))
	for i, p := range shown {
		ids[i] = p.ID
	}
	return &PhotoEvent{
		PhotoIDs:       ids,
		Photos:         shown,
		TriggerReason:  trig.Reason,
		MentionedNames: trig.MentionedNames,
		Context:        truncate(userTurn.Transcript, photoContextRunes),
	}, nil
}

func (s *Service) enrichmentFailed(result *TurnResult, a *session.Active, err *EnrichmentError) {
	slog.Warn("enrichment step failed", "step", err.Step, "error", err.Err, "session_id", a.ID, "turn_id", result.TurnID)
	metrics.EnrichmentFailuresTotal.WithLabelValues(err.Step).Inc()
	if !slices.Contains(result.Enrichment, err.Step) {
		result.Enrichment = append(result.Enrichment, err.Step)
	}
}

// emotionalState prefers the speech layer's estimate for this turn and falls
// back to the derived working mood.
func emotionalState(userTurn memory.ConversationTurn, working *WorkingSummary) string {
	if e := userTurn.Emotion; e != nil && e.Primary != "" {
		return e.Primary
	}
	if working != nil {
		return string(working.RecentMood)
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
