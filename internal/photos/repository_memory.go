package photos

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
	mu     sync.RWMutex
	photos map[uuid.UUID]Photo
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{photos: map[uuid.UUID]Photo{}}
}

// Add seeds the catalog.
func (r *InMemoryRepository) Add(p Photo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.photos[p.ID] = clonePhoto(p)
}

func (r *InMemoryRepository) Get(id uuid.UUID) (Photo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.photos[id]
	return clonePhoto(p), ok
}

func clonePhoto(p Photo) Photo {
	p.ManualTags = slices.Clone(p.ManualTags)
	p.TriggerKeywords = slices.Clone(p.TriggerKeywords)
	if p.CapturedDate != nil {
		t := *p.CapturedDate
		p.CapturedDate = &t
	}
	if p.LastShownAt != nil {
		t := *p.LastShownAt
		p.LastShownAt = &t
	}
	return p
}

func (r *InMemoryRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Photo
	for _, p := range r.photos {
		if p.UserID == userID {
			out = append(out, clonePhoto(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *InMemoryRepository) MarkShown(_ context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if p, ok := r.photos[id]; !ok || p.UserID != userID {
			return ErrNotFound
		}
	}
	for _, id := range ids {
		p := r.photos[id]
		shown := at
		p.LastShownAt = &shown
		p.ShownCount++
		r.photos[id] = p
	}
	return nil
}
