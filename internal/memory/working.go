package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/companion/internal/textnorm"
)

const (
	maxThemes     = 5
	maxActivities = 10
	maxEventText  = 120
	moodMinConf   = 0.5
)

// WorkingStore persists one WorkingMemory document per user in Redis.
type WorkingStore struct {
	client *redis.Client
}

func NewWorkingStore(client *redis.Client) *WorkingStore {
	return &WorkingStore{client: client}
}

func workingKey(userID uuid.UUID) string {
	return fmt.Sprintf("working:%s", userID.String())
}

// Get returns the stored working memory, or nil if none exists yet.
func (s *WorkingStore) Get(ctx context.Context, userID uuid.UUID) (*WorkingMemory, error) {
	data, err := s.client.Get(ctx, workingKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting working memory: %w", err)
	}

	var wm WorkingMemory
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, fmt.Errorf("decoding working memory: %w", err)
	}
	return &wm, nil
}

// Save replaces the user's working memory.
func (s *WorkingStore) Save(ctx context.Context, wm *WorkingMemory) error {
	data, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("encoding working memory: %w", err)
	}
	if err := s.client.Set(ctx, workingKey(wm.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("saving working memory: %w", err)
	}
	return nil
}

// DeriveWorking recomputes working memory from the short-term window.
// It is a pure function of its inputs: the same window, previous state and
// clock always produce the same result.
func DeriveWorking(userID uuid.UUID, prev *WorkingMemory, window []ConversationTurn, approved []string, now time.Time, activityWindow time.Duration) WorkingMemory {
	normalized := make([]string, len(window))
	for i, turn := range window {
		normalized[i], _ = textnorm.Normalize(turn.Transcript)
	}

	return WorkingMemory{
		UserID:           userID,
		LastUpdated:      now,
		RecentMood:       deriveMood(prev, window, normalized),
		RecentThemes:     deriveThemes(normalized),
		RecentActivities: deriveActivities(prev, window, normalized, textnorm.NormalizeAll(approved), now, activityWindow),
		UpcomingEvents:   deriveEvents(prev, window, normalized, now),
	}
}

func deriveMood(prev *WorkingMemory, window []ConversationTurn, normalized []string) Mood {
	for i := len(window) - 1; i >= 0; i-- {
		turn := window[i]
		if turn.Role != RoleUser || turn.Emotion == nil || turn.Emotion.Confidence < moodMinConf {
			continue
		}
		if mood, ok := emotionMoods[turn.Emotion.Primary]; ok {
			return mood
		}
	}

	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role != RoleUser {
			continue
		}
		for _, mood := range moodOrder {
			if len(textnorm.MatchAny(normalized[i], moodLexicon[mood])) > 0 {
				return mood
			}
		}
	}

	if prev != nil && prev.RecentMood != "" {
		return prev.RecentMood
	}
	return MoodNeutral
}

func deriveThemes(normalized []string) []string {
	type stat struct {
		name  string
		count int
		last  int
	}
	stats := map[string]*stat{}
	for i, text := range normalized {
		for theme, phrases := range themeLexicon {
			hits := len(textnorm.MatchAny(text, phrases))
			if hits == 0 {
				continue
			}
			st, ok := stats[theme]
			if !ok {
				st = &stat{name: theme}
				stats[theme] = st
			}
			st.count += hits
			st.last = i
		}
	}

	ranked := make([]*stat, 0, len(stats))
	for _, st := range stats {
		ranked = append(ranked, st)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		if ranked[i].last != ranked[j].last {
			return ranked[i].last > ranked[j].last
		}
		return ranked[i].name < ranked[j].name
	})

	themes := make([]string, 0, maxThemes)
	for _, st := range ranked {
		if len(themes) == maxThemes {
			break
		}
		themes = append(themes, st.name)
	}
	return themes
}

func deriveActivities(prev *WorkingMemory, window []ConversationTurn, normalized, approved []string, now time.Time, activityWindow time.Duration) []Activity {
	cutoff := now.Add(-activityWindow)
	latest := map[string]time.Time{}
	note := func(name string, at time.Time) {
		if at.Before(cutoff) {
			return
		}
		if cur, ok := latest[name]; !ok || at.After(cur) {
			latest[name] = at
		}
	}

	if prev != nil {
		for _, a := range prev.RecentActivities {
			note(a.Name, a.OccurredAt)
		}
	}

	for i, turn := range window {
		if turn.Role != RoleUser {
			continue
		}
		for _, name := range textnorm.MatchAny(normalized[i], approved) {
			note(name, turn.Timestamp)
		}
		for name, phrases := range activityLexicon {
			if len(textnorm.MatchAny(normalized[i], phrases)) > 0 {
				note(name, turn.Timestamp)
			}
		}
	}

	activities := make([]Activity, 0, len(latest))
	for name, at := range latest {
		activities = append(activities, Activity{Name: name, OccurredAt: at})
	}
	sort.Slice(activities, func(i, j int) bool {
		if !activities[i].OccurredAt.Equal(activities[j].OccurredAt) {
			return activities[i].OccurredAt.After(activities[j].OccurredAt)
		}
		return activities[i].Name < activities[j].Name
	})
	if len(activities) > maxActivities {
		activities = activities[:maxActivities]
	}
	return activities
}

func deriveEvents(prev *WorkingMemory, window []ConversationTurn, normalized []string, now time.Time) []Event {
	seen := map[string]bool{}
	var events []Event
	add := func(e Event) {
		if !e.At.After(now) || seen[e.Description] {
			return
		}
		seen[e.Description] = true
		events = append(events, e)
	}

	if prev != nil {
		for _, e := range prev.UpcomingEvents {
			add(e)
		}
	}

	for i, turn := range window {
		if turn.Role != RoleUser {
			continue
		}
		for _, cue := range eventCues {
			if !textnorm.ContainsWord(normalized[i], cue.phrase) {
				continue
			}
			day := turn.Timestamp.UTC().Truncate(24 * time.Hour)
			add(Event{
				Description: truncateRunes(turn.Transcript, maxEventText),
				At:          day.AddDate(0, 0, cue.days).Add(12 * time.Hour),
			})
			break
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
