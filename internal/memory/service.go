package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service coordinates the three memory tiers: short-term transcripts and
// working memory in Redis, long-term facts in the durable repository.
type Service struct {
	repo      Repository
	shortTerm *ShortTermStore
	working   *WorkingStore
	extractor Extractor
	defaults  Config
	now       func() time.Time
}

// NewService creates a new memory service.
func NewService(repo Repository, shortTerm *ShortTermStore, working *WorkingStore, extractor Extractor, defaults Config) *Service {
	return &Service{
		repo:      repo,
		shortTerm: shortTerm,
		working:   working,
		extractor: extractor,
		defaults:  defaults,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MergeResult reports what Merge did with a batch of candidates.
type MergeResult struct {
	Inserted int `json:"inserted"`
	Touched  int `json:"touched"`
}

// BeginSession records that the user has started a session, which makes
// Load succeed with empty tiers from now on.
func (s *Service) BeginSession(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkSessionStarted(ctx, userID, s.now())
}

// Load returns the user's three memory tiers and bumps the access counters
// of the returned long-term rows.
func (s *Service) Load(ctx context.Context, userID uuid.UUID, cfg Config) (*Snapshot, error) {
	snap, err := s.Peek(ctx, userID, cfg.ShortTermTurns, cfg.LongTermLimit)
	if err != nil {
		return nil, err
	}

	if len(snap.LongTerm) == 0 {
		return snap, nil
	}
	now := s.now()
	ids := make([]uuid.UUID, len(snap.LongTerm))
	for i := range snap.LongTerm {
		ids[i] = snap.LongTerm[i].ID
	}
	if err := s.repo.Touch(ctx, ids, now); err != nil {
		return nil, err
	}
	for i := range snap.LongTerm {
		snap.LongTerm[i].LastAccessed = now
		snap.LongTerm[i].AccessCount++
	}
	return snap, nil
}

// Peek is Load without touching access counters, for inspection surfaces.
func (s *Service) Peek(ctx context.Context, userID uuid.UUID, shortTermTurns, longTermLimit int) (*Snapshot, error) {
	known, err := s.repo.HasSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, ErrNotFound
	}

	snap := &Snapshot{ShortTerm: []ConversationTurn{}, LongTerm: []LongTermMemory{}}

	turns, err := s.shortTerm.Recent(ctx, userID, shortTermTurns)
	if err != nil {
		return nil, err
	}
	snap.ShortTerm = turns

	snap.Working, err = s.working.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	ranked, err := s.repo.Ranked(ctx, userID, longTermLimit)
	if err != nil {
		return nil, err
	}
	if ranked != nil {
		snap.LongTerm = ranked
	}
	return snap, nil
}

// Extract classifies a turn and drops candidates below the confidence floor.
func (s *Service) Extract(turn ConversationTurn, conversation []ConversationTurn, cfg Config) []Candidate {
	var kept []Candidate
	for _, c := range s.extractor.Extract(turn, conversation) {
		if c.Confidence < cfg.ConfidenceFloor {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// Merge stores candidates against the user's history. A value that differs
// from the newest version is appended as a new version; an identical value
// only bumps the existing row's access counters.
func (s *Service) Merge(ctx context.Context, userID uuid.UUID, candidates []Candidate) (MergeResult, error) {
	var res MergeResult
	now := s.now()

	for _, c := range candidates {
		latest, err := s.repo.Latest(ctx, userID, c.MemoryType, c.Key)
		if err != nil {
			return res, fmt.Errorf("merging %s/%s: %w", c.MemoryType, c.Key, err)
		}

		if latest != nil && sameValue(latest.Value, c.Value) {
			if err := s.repo.Touch(ctx, []uuid.UUID{latest.ID}, now); err != nil {
				return res, fmt.Errorf("merging %s/%s: %w", c.MemoryType, c.Key, err)
			}
			res.Touched++
			continue
		}

		mem := &LongTermMemory{
			ID:           uuid.New(),
			UserID:       userID,
			MemoryType:   c.MemoryType,
			Key:          c.Key,
			Value:        c.Value,
			ExtractedAt:  now,
			Context:      c.Context,
			Importance:   c.Importance,
			Confidence:   c.Confidence,
			LastAccessed: now,
			Tags:         c.Tags,
		}
		if err := s.repo.Insert(ctx, mem); err != nil {
			return res, fmt.Errorf("merging %s/%s: %w", c.MemoryType, c.Key, err)
		}
		res.Inserted++
	}
	return res, nil
}

func sameValue(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// RecordTurns appends turns to the user's short-term window.
func (s *Service) RecordTurns(ctx context.Context, userID uuid.UUID, turns []ConversationTurn, cfg Config) error {
	return s.shortTerm.Append(ctx, userID, turns, cfg.ShortTermTurns, cfg.ShortTermTTL())
}

// UpdateWorking re-derives and stores working memory from the current
// short-term window.
func (s *Service) UpdateWorking(ctx context.Context, userID uuid.UUID, approved []string, cfg Config) (*WorkingMemory, error) {
	window, err := s.shortTerm.Recent(ctx, userID, cfg.ShortTermTurns)
	if err != nil {
		return nil, err
	}
	return s.updateWorking(ctx, userID, window, approved, cfg)
}

func (s *Service) updateWorking(ctx context.Context, userID uuid.UUID, window []ConversationTurn, approved []string, cfg Config) (*WorkingMemory, error) {
	prev, err := s.working.Get(ctx, userID)
	if err != nil {
		// A corrupt document is replaced rather than blocking the update.
		slog.Warn("memory: ignoring unreadable working memory", "user_id", userID, "error", err)
		prev = nil
	}

	wm := DeriveWorking(userID, prev, window, approved, s.now(), cfg.ActivityWindow())
	if err := s.working.Save(ctx, &wm); err != nil {
		return nil, err
	}
	return &wm, nil
}

// TurnUpdate is the memory outcome of one processed exchange.
type TurnUpdate struct {
	Working *WorkingMemory
	Merge   MergeResult
}

// ProcessTurn records the exchange, extracts and merges facts from the user
// turn, and refreshes working memory.
func (s *Service) ProcessTurn(ctx context.Context, userID uuid.UUID, userTurn, assistantTurn ConversationTurn, approved []string, cfg Config) (*TurnUpdate, error) {
	if err := s.RecordTurns(ctx, userID, []ConversationTurn{userTurn, assistantTurn}, cfg); err != nil {
		return nil, fmt.Errorf("recording turns: %w", err)
	}

	window, err := s.shortTerm.Recent(ctx, userID, cfg.ShortTermTurns)
	if err != nil {
		return nil, fmt.Errorf("reading short-term window: %w", err)
	}

	merged, err := s.Merge(ctx, userID, s.Extract(userTurn, window, cfg))
	if err != nil {
		return nil, err
	}

	wm, err := s.updateWorking(ctx, userID, window, approved, cfg)
	if err != nil {
		return nil, fmt.Errorf("updating working memory: %w", err)
	}
	return &TurnUpdate{Working: wm, Merge: merged}, nil
}

// History returns every stored version of a fact, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, memType MemoryType, key string) ([]LongTermMemory, error) {
	return s.repo.History(ctx, userID, memType, key)
}

// KnownPeople returns the names recorded as family facts, for photo triggers.
func KnownPeople(memories []LongTermMemory) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range memories {
		if m.MemoryType != TypeFamilyInfo || m.Value == "" {
			continue
		}
		k := strings.ToLower(m.Value)
		if seen[k] {
			continue
		}
		seen[k] = true
		names = append(names, m.Value)
	}
	return names
}

// familyScanLimit bounds how many ranked facts FamilyNames inspects.
const familyScanLimit = 200

// FamilyNames returns the people named in the user's family facts without
// bumping access counters.
func (s *Service) FamilyNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	ranked, err := s.repo.Ranked(ctx, userID, familyScanLimit)
	if err != nil {
		return nil, fmt.Errorf("loading family facts: %w", err)
	}
	return KnownPeople(ranked), nil
}

// Defaults returns the platform memory settings.
func (s *Service) Defaults() Config {
	return s.defaults
}
