package photos

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/metrics"
	"github.com/aiox-platform/companion/internal/textnorm"
)

// SessionCounter tracks how many photos a session has displayed.
type SessionCounter interface {
	PhotosShown(ctx context.Context, sessionID string) (int, error)
	AddPhotosShown(ctx context.Context, sessionID string, n int) (int, error)
}

// comfortTags mark photos suited to lifting a low mood.
var comfortTags = textnorm.NormalizeAll([]string{
	"happy", "family", "celebration", "wedding", "birthday", "holiday", "grandchildren", "vacation", "smile",
	"שמח", "שמחה", "משפחה", "חתונה", "יום הולדת", "חופשה", "נכדים", "נכדות", "חגיגה",
})

// Engine selects photos for a trigger.
type Engine struct {
	repo     Repository
	resolver MediaResolver
	counter  SessionCounter
	now      func() time.Time
}

// NewEngine creates an Engine. counter may be nil, in which case no
// per-session cap is enforced.
func NewEngine(repo Repository, resolver MediaResolver, counter SessionCounter) *Engine {
	return &Engine{
		repo:     repo,
		resolver: resolver,
		counter:  counter,
		now:      time.Now,
	}
}

type candidate struct {
	photo   Photo
	score   int
	matched []string
}

// Select picks photos for req, marks them shown and returns them with
// resolved URLs. Photos inside the cooldown are never relaxed back in: an
// empty pool yields an empty result.
func (e *Engine) Select(ctx context.Context, req SelectRequest, settings Settings) ([]PhotoDisplay, error) {
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("unknown trigger reason %q", req.Reason)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = settings.DefaultLimit
	}

	if e.counter != nil && req.SessionID != "" {
		shown, err := e.counter.PhotosShown(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("reading session photo count: %w", err)
		}
		limit = min(limit, settings.SessionCap-shown)
	}
	if limit <= 0 {
		return []PhotoDisplay{}, nil
	}

	catalog, err := e.repo.ListByUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing photos: %w", err)
	}

	now := e.now().UTC()
	pool := candidatesFor(req, catalog)
	if req.ExcludeRecentlyShown == nil || *req.ExcludeRecentlyShown {
		pool = withoutRecent(pool, now, settings.Cooldown())
	}
	sortCandidates(pool, req.SortBy)

	displays := make([]PhotoDisplay, 0, limit)
	ids := make([]uuid.UUID, 0, limit)
	for _, c := range pool {
		if len(displays) == limit {
			break
		}
		d, err := e.display(ctx, c)
		if err != nil {
			slog.Warn("resolving photo URL", "error", err, "photo_id", c.photo.ID)
			continue
		}
		displays = append(displays, d)
		ids = append(ids, c.photo.ID)
	}
	if len(displays) == 0 {
		return displays, nil
	}

	if err := e.repo.MarkShown(ctx, req.UserID, ids, now); err != nil {
		return nil, fmt.Errorf("marking photos shown: %w", err)
	}
	if e.counter != nil && req.SessionID != "" {
		if _, err := e.counter.AddPhotosShown(ctx, req.SessionID, len(ids)); err != nil {
			slog.Warn("updating session photo count", "error", err, "session_id", req.SessionID)
		}
	}
	metrics.PhotosShownTotal.WithLabelValues(string(req.Reason)).Add(float64(len(ids)))
	return displays, nil
}

func (e *Engine) display(ctx context.Context, c candidate) (PhotoDisplay, error) {
	u, err := e.resolver.Resolve(ctx, c.photo.BlobRef)
	if err != nil {
		return PhotoDisplay{}, err
	}
	d := PhotoDisplay{
		ID:           c.photo.ID,
		URL:          u,
		Caption:      c.photo.Caption,
		Location:     c.photo.Location,
		CapturedDate: c.photo.CapturedDate,
		Tags:         c.photo.ManualTags,
		MatchedTags:  c.matched,
	}
	if c.photo.ThumbnailRef != "" {
		if thumb, err := e.resolver.Resolve(ctx, c.photo.ThumbnailRef); err == nil {
			d.ThumbnailURL = thumb
		}
	}
	return d, nil
}

// candidatesFor builds the pool for the trigger reason and scores each photo
// by how many requested terms it matched.
func candidatesFor(req SelectRequest, catalog []Photo) []candidate {
	var terms []string
	switch req.Reason {
	case ReasonFamilyMention, ReasonRequested:
		terms = textnorm.NormalizeAll(req.MentionedNames)
	case ReasonSadness:
		terms = comfortTags
	}

	pool := make([]candidate, 0, len(catalog))
	for _, p := range catalog {
		if len(terms) == 0 {
			if req.Reason == ReasonFamilyMention {
				continue
			}
			pool = append(pool, candidate{photo: p})
			continue
		}
		matched := matchTerms(p, terms)
		if len(matched) == 0 {
			continue
		}
		pool = append(pool, candidate{photo: p, score: len(matched), matched: matched})
	}
	return pool
}

// matchTerms returns the photo tags and trigger keywords equal to a term.
func matchTerms(p Photo, terms []string) []string {
	var matched []string
	check := func(labels []string) {
		for _, label := range labels {
			n, err := textnorm.Normalize(label)
			if err != nil || n == "" {
				continue
			}
			if slices.Contains(terms, n) && !slices.Contains(matched, label) {
				matched = append(matched, label)
			}
		}
	}
	check(p.ManualTags)
	check(p.TriggerKeywords)
	return matched
}

func withoutRecent(pool []candidate, now time.Time, cooldown time.Duration) []candidate {
	if cooldown <= 0 {
		return pool
	}
	out := pool[:0]
	for _, c := range pool {
		if last := c.photo.LastShownAt; last != nil && now.Sub(*last) < cooldown {
			continue
		}
		out = append(out, c)
	}
	return out
}

func sortCandidates(pool []candidate, by SortBy) {
	newer := func(a, b Photo) int {
		switch {
		case a.CapturedDate == nil && b.CapturedDate == nil:
			return 0
		case a.CapturedDate == nil:
			return 1
		case b.CapturedDate == nil:
			return -1
		case a.CapturedDate.After(*b.CapturedDate):
			return -1
		case b.CapturedDate.After(*a.CapturedDate):
			return 1
		}
		return 0
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i].photo, pool[j].photo
		switch by {
		case SortRecent:
			if c := newer(a, b); c != 0 {
				return c < 0
			}
		case SortLeastShown:
			if a.ShownCount != b.ShownCount {
				return a.ShownCount < b.ShownCount
			}
			if c := newer(a, b); c != 0 {
				return c < 0
			}
		default:
			if pool[i].score != pool[j].score {
				return pool[i].score > pool[j].score
			}
			if c := newer(a, b); c != 0 {
				return c < 0
			}
		}
		return a.ID.String() < b.ID.String()
	})
}
