package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/metrics"
)

// Notifier hands a critical incident to the notification dispatcher. A nil
// error means the dispatcher accepted it; delivery is not tracked here.
type Notifier interface {
	Notify(ctx context.Context, inc *Incident, recipients []Recipient) (messageID string, err error)
}

// Incident transition names published to the EventSink.
const (
	EventCreated      = "incident.created"
	EventDeduplicated = "incident.deduplicated"
	EventEscalated    = "incident.escalated"
	EventResolved     = "incident.resolved"
	EventNotified     = "incident.notified"
)

// Event is one incident transition.
type Event struct {
	Type     string     `json:"type"`
	Incident Incident   `json:"incident"`
	Previous *uuid.UUID `json:"previous_id,omitempty"`
	At       time.Time  `json:"at"`
}

// EventSink receives incident transitions for the audit trail.
type EventSink interface {
	IncidentEvent(ctx context.Context, ev Event) error
}

// Tracker deduplicates detections into incidents and drives their lifecycle.
type Tracker struct {
	store    Store
	notifier Notifier
	sink     EventSink
	now      func() time.Time
}

// NewTracker creates a Tracker. notifier and sink may be nil.
func NewTracker(store Store, notifier Notifier, sink EventSink) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		sink:     sink,
		now:      time.Now,
	}
}

// Record folds det into an existing open incident or creates a new one.
// Critical incidents that are created or escalated are handed to the
// notifier before Record returns, even when persisting them failed.
func (t *Tracker) Record(ctx context.Context, det Detection, settings Settings, recipients []Recipient) (*Incident, Outcome, error) {
	now := t.now().UTC()
	key := DedupKey{ConversationID: det.ConversationID, IncidentType: det.Match.IncidentType}

	inc, prev, outcome, err := t.recordOnce(ctx, key, det, settings.DedupWindow(), now)
	if errors.Is(err, ErrDedupRace) {
		slog.Warn("incident dedup race, retrying", "conversation_id", det.ConversationID, "rule_id", det.Match.RuleID)
		inc, prev, outcome, err = t.recordOnce(ctx, key, det, settings.DedupWindow(), now)
	}
	if errors.Is(err, ErrDedupRace) {
		slog.Warn("incident dedup race persisted, creating without dedup",
			"conversation_id", det.ConversationID, "rule_id", det.Match.RuleID)
		inc, prev, outcome = newIncident(det, now), nil, OutcomeCreated
		err = t.store.Create(ctx, inc)
	}

	if err != nil {
		// The incident could not be stored. A critical match still reaches the family.
		if inc == nil {
			inc, outcome = newIncident(det, now), OutcomeCreated
		}
		if inc.Severity == SeverityCritical {
			t.notify(ctx, inc, recipients, false)
		}
		metrics.IncidentsTotal.WithLabelValues(string(det.Match.Severity), "failed").Inc()
		return inc, outcome, fmt.Errorf("recording incident: %w", err)
	}

	metrics.IncidentsTotal.WithLabelValues(string(inc.Severity), string(outcome)).Inc()

	switch outcome {
	case OutcomeDeduplicated:
		t.publish(ctx, EventDeduplicated, inc, nil)
	case OutcomeEscalated:
		t.publish(ctx, EventEscalated, inc, prev)
	default:
		t.publish(ctx, EventCreated, inc, nil)
	}

	if inc.Severity == SeverityCritical && outcome != OutcomeDeduplicated {
		t.notify(ctx, inc, recipients, true)
	}
	return inc, outcome, nil
}

func (t *Tracker) recordOnce(ctx context.Context, key DedupKey, det Detection, window time.Duration, now time.Time) (*Incident, *uuid.UUID, Outcome, error) {
	var (
		inc     *Incident
		prev    *uuid.UUID
		outcome Outcome
	)
	err := t.store.WithDedupLock(ctx, key, func(tx StoreTx) error {
		open, err := tx.OpenIncidents(ctx, key)
		if err != nil {
			return err
		}
		rank := det.Match.Severity.Rank()

		for i := range open {
			o := open[i]
			if o.Rule.RuleID != det.Match.RuleID || o.Severity.Rank() < rank {
				continue
			}
			if now.Sub(o.LastDetectedAt) > window {
				continue
			}
			if err := tx.Bump(ctx, o.ID, now); err != nil {
				return err
			}
			o.DetectionCount++
			o.LastDetectedAt = now
			inc, outcome = &o, OutcomeDeduplicated
			return nil
		}

		created := newIncident(det, now)
		outcome = OutcomeCreated
		for i := range open {
			if open[i].Severity.Rank() >= rank {
				continue
			}
			if err := tx.MarkEscalated(ctx, open[i].ID); err != nil {
				return err
			}
			id := open[i].ID
			prev = &id
			created.EscalatedFrom = &id
			outcome = OutcomeEscalated
			break
		}
		if err := tx.Insert(ctx, created); err != nil {
			return err
		}
		inc = created
		return nil
	})
	if err != nil {
		return nil, nil, "", err
	}
	return inc, prev, outcome, nil
}

func newIncident(det Detection, now time.Time) *Incident {
	return &Incident{
		ID:             uuid.New(),
		UserID:         det.UserID,
		Timestamp:      now,
		IncidentType:   det.Match.IncidentType,
		Severity:       det.Match.Severity,
		ConversationID: det.ConversationID,
		TurnID:         det.TurnID,
		Context:        det.Context,
		Rule: RuleRef{
			RuleID:   det.Match.RuleID,
			RuleName: det.Match.RuleName,
			Reason:   det.Match.Reason,
		},
		MatchedPhrase:  det.Match.Phrase,
		MatchedRole:    det.Match.Role,
		Status:         StatusOpen,
		DetectionCount: 1,
		LastDetectedAt: now,
	}
}

// notify initiates the family notification and records its outcome on inc.
// Dispatcher failures are recorded, not returned.
func (t *Tracker) notify(ctx context.Context, inc *Incident, recipients []Recipient, persisted bool) {
	n := FamilyNotification{
		Status:     NotificationQueued,
		NotifiedAt: t.now().UTC(),
		Recipients: recipients,
	}
	if t.notifier == nil {
		n.Status = NotificationFailed
		n.Error = "no notification dispatcher configured"
	} else if msgID, err := t.notifier.Notify(ctx, inc, recipients); err != nil {
		n.Status = NotificationFailed
		n.Error = err.Error()
		slog.Error("initiating family notification", "error", err, "incident_id", inc.ID, "user_id", inc.UserID)
	} else {
		n.MessageID = msgID
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Status)).Inc()
	inc.FamilyNotification = &n

	if !persisted {
		return
	}
	if err := t.store.SetNotification(ctx, inc.ID, n); err != nil {
		slog.Error("recording family notification", "error", err, "incident_id", inc.ID)
	}
	t.publish(ctx, EventNotified, inc, nil)
}

func (t *Tracker) publish(ctx context.Context, eventType string, inc *Incident, prev *uuid.UUID) {
	if t.sink == nil {
		return
	}
	ev := Event{Type: eventType, Incident: *inc, Previous: prev, At: t.now().UTC()}
	if err := t.sink.IncidentEvent(ctx, ev); err != nil {
		slog.Warn("publishing incident event", "error", err, "event", eventType, "incident_id", inc.ID)
	}
}

// Resolve marks an incident resolved. Resolving a resolved incident returns
// the stored record unchanged with changed=false.
func (t *Tracker) Resolve(ctx context.Context, id uuid.UUID, resolvedBy, notes string) (*Incident, bool, error) {
	res := Resolution{
		ResolvedAt: t.now().UTC(),
		ResolvedBy: resolvedBy,
		Notes:      notes,
	}
	inc, changed, err := t.store.Resolve(ctx, id, res)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("resolving incident %s: %w", id, err)
	}
	if changed {
		t.publish(ctx, EventResolved, inc, nil)
	}
	return inc, changed, nil
}

func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	return t.store.Get(ctx, id)
}

func (t *Tracker) ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Incident, int64, error) {
	return t.store.ListByUser(ctx, userID, params)
}

func (t *Tracker) ListOpen(ctx context.Context, userID uuid.UUID) ([]Incident, error) {
	return t.store.ListOpen(ctx, userID)
}
