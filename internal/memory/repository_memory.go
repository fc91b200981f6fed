package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is a process-local Repository used by tests and the
// "memory" storage driver.
type InMemoryRepository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]bool
	rows     []LongTermMemory
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{sessions: map[uuid.UUID]bool{}}
}

func (r *InMemoryRepository) MarkSessionStarted(_ context.Context, userID uuid.UUID, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = true
	return nil
}

func (r *InMemoryRepository) HasSessions(_ context.Context, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID], nil
}

// history returns matching rows newest first; later inserts win ties.
func (r *InMemoryRepository) history(userID uuid.UUID, memType MemoryType, key string) []LongTermMemory {
	var out []LongTermMemory
	for i := len(r.rows) - 1; i >= 0; i-- {
		m := r.rows[i]
		if m.UserID == userID && m.MemoryType == memType && m.Key == key {
			out = append(out, cloneMemory(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExtractedAt.After(out[j].ExtractedAt) })
	return out
}

func (r *InMemoryRepository) Latest(_ context.Context, userID uuid.UUID, memType MemoryType, key string) (*LongTermMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.history(userID, memType, key)
	if len(h) == 0 {
		return nil, nil
	}
	return &h[0], nil
}

func (r *InMemoryRepository) Insert(_ context.Context, mem *LongTermMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	r.rows = append(r.rows, cloneMemory(*mem))
	return nil
}

func (r *InMemoryRepository) Touch(_ context.Context, ids []uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if slices.Contains(ids, r.rows[i].ID) {
			r.rows[i].LastAccessed = at
			r.rows[i].AccessCount++
		}
	}
	return nil
}

func (r *InMemoryRepository) Ranked(_ context.Context, userID uuid.UUID, limit int) ([]LongTermMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type typeKey struct {
		t MemoryType
		k string
	}
	seen := map[typeKey]bool{}
	var latest []LongTermMemory
	for _, m := range r.rows {
		tk := typeKey{m.MemoryType, m.Key}
		if m.UserID != userID || seen[tk] {
			continue
		}
		seen[tk] = true
		latest = append(latest, r.history(userID, m.MemoryType, m.Key)[0])
	}

	SortRanked(latest)
	if limit > 0 && len(latest) > limit {
		latest = latest[:limit]
	}
	return latest, nil
}

func (r *InMemoryRepository) History(_ context.Context, userID uuid.UUID, memType MemoryType, key string) ([]LongTermMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history(userID, memType, key), nil
}

// SortRanked orders memories by importance, then confidence, then last access.
func SortRanked(ms []LongTermMemory) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Importance.Rank() != b.Importance.Rank() {
			return a.Importance.Rank() > b.Importance.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.LastAccessed.After(b.LastAccessed)
	})
}

func cloneMemory(m LongTermMemory) LongTermMemory {
	m.Tags = slices.Clone(m.Tags)
	return m
}
