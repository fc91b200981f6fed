package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepository keeps audit entries in process memory.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{entries: map[uuid.UUID]Entry{}}
}

func (r *InMemoryRepository) Insert(_ context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; !ok {
		r.entries[e.ID] = *e
	}
	return nil
}

func (r *InMemoryRepository) ListByOwner(_ context.Context, ownerUserID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	return r.list(ownerUserID, nil, params), r.count(ownerUserID, nil, params), nil
}

func (r *InMemoryRepository) ListByResource(_ context.Context, ownerUserID, resourceID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	return r.list(ownerUserID, &resourceID, params), r.count(ownerUserID, &resourceID, params), nil
}

func (r *InMemoryRepository) filter(ownerUserID uuid.UUID, resourceID *uuid.UUID, params ListParams) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Entry{}
	for _, e := range r.entries {
		if e.OwnerUserID != ownerUserID || !params.matches(&e) {
			continue
		}
		if resourceID != nil && (e.ResourceID == nil || *e.ResourceID != *resourceID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *InMemoryRepository) list(ownerUserID uuid.UUID, resourceID *uuid.UUID, params ListParams) []Entry {
	params = params.normalized()
	all := r.filter(ownerUserID, resourceID, params)
	start := (params.Page - 1) * params.PageSize
	if start >= len(all) {
		return []Entry{}
	}
	return all[start:min(start+params.PageSize, len(all))]
}

func (r *InMemoryRepository) count(ownerUserID uuid.UUID, resourceID *uuid.UUID, params ListParams) int64 {
	return int64(len(r.filter(ownerUserID, resourceID, params)))
}
