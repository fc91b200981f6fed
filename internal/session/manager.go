package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/safety"
)

// Active is a live session with its compiled safety policy.
type Active struct {
	*Session
	Policy *safety.Policy
}

// Manager starts, loads and ends sessions. Compiled policies are cached per
// session so turns do not recompile the rules.
type Manager struct {
	profiles ProfileRepository
	store    Store
	policies *ristretto.Cache
	defaults Settings
	now      func() time.Time
}

// NewManager creates a Manager. cacheSize bounds the number of cached policies.
func NewManager(profiles ProfileRepository, store Store, defaults Settings, cacheSize int64) (*Manager, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating policy cache: %w", err)
	}
	return &Manager{
		profiles: profiles,
		store:    store,
		policies: cache,
		defaults: defaults,
		now:      time.Now,
	}, nil
}

// Close releases the policy cache.
func (m *Manager) Close() {
	m.policies.Close()
}

// Start snapshots the user's profile into a new session. Missing or invalid
// safety rules yield ErrConfigMissing.
func (m *Manager) Start(ctx context.Context, userID uuid.UUID) (*Active, error) {
	profile, err := m.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrConfigMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	rules, err := safety.ParseRules(profile.SafetyRules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMissing, err)
	}
	policy, err := safety.Compile(rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMissing, err)
	}

	now := m.now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: uuid.New(),
		StartedAt:      now,
		UpdatedAt:      now,
		Rules:          rules,
		Settings:       ParseSettings(profile.Settings, m.defaults),
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	m.policies.Set(sess.ID, policy, 1)

	slog.Info("session started", "session_id", sess.ID, "user_id", userID, "conversation_id", sess.ConversationID)
	return &Active{Session: sess, Policy: policy}, nil
}

// Get loads a live session. The policy is recompiled from the session's own
// rule snapshot on a cache miss, never from the current profile.
func (m *Manager) Get(ctx context.Context, id string) (*Active, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cached, ok := m.policies.Get(id); ok {
		if policy, ok := cached.(*safety.Policy); ok {
			return &Active{Session: sess, Policy: policy}, nil
		}
	}
	policy, err := safety.Compile(sess.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMissing, err)
	}
	m.policies.Set(id, policy, 1)
	return &Active{Session: sess, Policy: policy}, nil
}

// End removes the session. Ending an unknown session is not an error.
func (m *Manager) End(ctx context.Context, id string) error {
	m.policies.Del(id)
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	slog.Info("session ended", "session_id", id)
	return nil
}

// NextTurnID allocates the next turn number of the session's conversation.
func (m *Manager) NextTurnID(ctx context.Context, a *Active) (int64, error) {
	return m.store.NextTurnID(ctx, a.ConversationID)
}

// RecordTurn stamps the session with a processed turn. A version conflict is
// retried once against the freshly stored session.
func (m *Manager) RecordTurn(ctx context.Context, a *Active, at time.Time) error {
	apply := func(s *Session) {
		t := at.UTC()
		s.LastTurnAt = &t
		s.TurnCount++
		s.UpdatedAt = m.now().UTC()
	}

	next := *a.Session
	apply(&next)
	err := m.store.Update(ctx, &next)
	if errors.Is(err, ErrVersionConflict) {
		fresh, getErr := m.store.Get(ctx, a.ID)
		if getErr != nil {
			return fmt.Errorf("reloading session: %w", getErr)
		}
		next = *fresh
		apply(&next)
		err = m.store.Update(ctx, &next)
	}
	if err != nil {
		return fmt.Errorf("recording turn: %w", err)
	}
	*a.Session = next
	return nil
}

func (m *Manager) PhotosShown(ctx context.Context, sessionID string) (int, error) {
	return m.store.PhotosShown(ctx, sessionID)
}

func (m *Manager) AddPhotosShown(ctx context.Context, sessionID string, n int) (int, error) {
	return m.store.AddPhotosShown(ctx, sessionID, n)
}

func (m *Manager) MarkLongConversation(ctx context.Context, sessionID string) (bool, error) {
	return m.store.MarkLongConversation(ctx, sessionID)
}

func (m *Manager) LongConversationFired(ctx context.Context, sessionID string) (bool, error) {
	return m.store.LongConversationFired(ctx, sessionID)
}
