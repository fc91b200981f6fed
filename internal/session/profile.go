package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository reads per-user configuration. Get returns
// ErrConfigMissing when the user has no profile.
type ProfileRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
}

// PostgresProfileRepository implements ProfileRepository on companion_profiles.
type PostgresProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresProfileRepository(pool *pgxpool.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{pool: pool}
}

func (r *PostgresProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, safety_rules, settings, updated_at
		 FROM companion_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.SafetyRules, &p.Settings, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &p, nil
}

func (r *PostgresProfileRepository) Upsert(ctx context.Context, p *Profile) error {
	settings := p.Settings
	if len(settings) == 0 {
		settings = []byte(`{}`)
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO companion_profiles (user_id, safety_rules, settings, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET safety_rules = EXCLUDED.safety_rules, settings = EXCLUDED.settings, updated_at = NOW()
		 RETURNING updated_at`,
		p.UserID, p.SafetyRules, settings,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// InMemoryProfileRepository is used by tests and the "memory" storage driver.
type InMemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]Profile
}

func NewInMemoryProfileRepository() *InMemoryProfileRepository {
	return &InMemoryProfileRepository{profiles: map[uuid.UUID]Profile{}}
}

func (r *InMemoryProfileRepository) Get(_ context.Context, userID uuid.UUID) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, ErrConfigMissing
	}
	p.SafetyRules = slices.Clone(p.SafetyRules)
	p.Settings = slices.Clone(p.Settings)
	return &p, nil
}

func (r *InMemoryProfileRepository) Upsert(_ context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *p
	stored.SafetyRules = slices.Clone(p.SafetyRules)
	stored.Settings = slices.Clone(p.Settings)
	r.profiles[p.UserID] = stored
	return nil
}
