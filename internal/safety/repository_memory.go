package safety

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a process-local Store used by tests and the "memory"
// storage driver. A dedup lock holds the whole store; changes made inside it
// are applied only when fn succeeds.
type InMemoryStore struct {
	mu        sync.Mutex
	incidents map[uuid.UUID]*Incident
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{incidents: map[uuid.UUID]*Incident{}}
}

func cloneIncident(inc *Incident) *Incident {
	c := *inc
	if inc.FamilyNotification != nil {
		n := *inc.FamilyNotification
		n.Recipients = slices.Clone(n.Recipients)
		c.FamilyNotification = &n
	}
	if inc.Resolution != nil {
		r := *inc.Resolution
		c.Resolution = &r
	}
	if inc.EscalatedFrom != nil {
		id := *inc.EscalatedFrom
		c.EscalatedFrom = &id
	}
	return &c
}

func (s *InMemoryStore) WithDedupLock(ctx context.Context, _ DedupKey, fn func(tx StoreTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[uuid.UUID]*Incident, len(s.incidents))
	for id, inc := range s.incidents {
		staged[id] = cloneIncident(inc)
	}
	if err := fn(&memStoreTx{incidents: staged}); err != nil {
		return err
	}
	s.incidents = staged
	return nil
}

func (s *InMemoryStore) Create(_ context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIncident(inc), nil
}

func (s *InMemoryStore) Resolve(_ context.Context, id uuid.UUID, res Resolution) (*Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if inc.Status == StatusResolved {
		return cloneIncident(inc), false, nil
	}
	inc.Status = StatusResolved
	inc.Resolution = &res
	return cloneIncident(inc), true, nil
}

func (s *InMemoryStore) SetNotification(_ context.Context, id uuid.UUID, n FamilyNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return ErrNotFound
	}
	n.Recipients = slices.Clone(n.Recipients)
	inc.FamilyNotification = &n
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID uuid.UUID, params ListParams) ([]Incident, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	s.mu.Lock()
	matched := s.filter(func(inc *Incident) bool {
		return inc.UserID == userID &&
			(params.Status == "" || inc.Status == params.Status) &&
			(params.Severity == "" || inc.Severity == params.Severity)
	})
	s.mu.Unlock()

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := min(start+params.PageSize, len(matched))
	return matched[start:end], total, nil
}

func (s *InMemoryStore) ListOpen(_ context.Context, userID uuid.UUID) ([]Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(inc *Incident) bool {
		return inc.UserID == userID && inc.Status != StatusResolved
	}), nil
}

// filter returns copies newest first. Callers hold mu.
func (s *InMemoryStore) filter(keep func(*Incident) bool) []Incident {
	var out []Incident
	for _, inc := range s.incidents {
		if keep(inc) {
			out = append(out, *cloneIncident(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

type memStoreTx struct {
	incidents map[uuid.UUID]*Incident
}

func (t *memStoreTx) OpenIncidents(_ context.Context, key DedupKey) ([]Incident, error) {
	var out []Incident
	for _, inc := range t.incidents {
		if inc.ConversationID == key.ConversationID && inc.IncidentType == key.IncidentType && inc.Status == StatusOpen {
			out = append(out, *cloneIncident(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastDetectedAt.Equal(out[j].LastDetectedAt) {
			return out[i].LastDetectedAt.After(out[j].LastDetectedAt)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (t *memStoreTx) Insert(_ context.Context, inc *Incident) error {
	t.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

func (t *memStoreTx) Bump(_ context.Context, id uuid.UUID, at time.Time) error {
	inc, ok := t.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.DetectionCount++
	if at.After(inc.LastDetectedAt) {
		inc.LastDetectedAt = at
	}
	return nil
}

func (t *memStoreTx) MarkEscalated(_ context.Context, id uuid.UUID) error {
	inc, ok := t.incidents[id]
	if !ok {
		return ErrNotFound
	}
	if inc.Status == StatusOpen {
		inc.Status = StatusEscalated
	}
	return nil
}
