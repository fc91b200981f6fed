package safety

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists incidents. WithDedupLock runs fn with exclusive access to
// the incidents sharing key; a conflicting concurrent writer surfaces as ErrDedupRace.
type Store interface {
	WithDedupLock(ctx context.Context, key DedupKey, fn func(tx StoreTx) error) error
	Create(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id uuid.UUID) (*Incident, error)
	// Resolve returns the stored incident and whether this call changed it.
	Resolve(ctx context.Context, id uuid.UUID, res Resolution) (*Incident, bool, error)
	SetNotification(ctx context.Context, id uuid.UUID, n FamilyNotification) error
	ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Incident, int64, error)
	ListOpen(ctx context.Context, userID uuid.UUID) ([]Incident, error)
}

// StoreTx is the view of the store inside a dedup lock.
type StoreTx interface {
	// OpenIncidents returns the open incidents for key, newest detection first.
	OpenIncidents(ctx context.Context, key DedupKey) ([]Incident, error)
	Insert(ctx context.Context, inc *Incident) error
	Bump(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkEscalated(ctx context.Context, id uuid.UUID) error
}

// PostgresStore implements Store on the safety_incidents table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const incidentColumns = `id, user_id, created_at, incident_type, severity, conversation_id, turn_id,
	user_request, ai_response, rule_id, rule_name, reason, matched_phrase, matched_role,
	family_notification, resolved_at, resolved_by, resolution_notes,
	status, detection_count, last_detected_at, escalated_from`

func scanIncident(row pgx.Row) (*Incident, error) {
	var (
		inc          Incident
		notification []byte
		resolvedAt   *time.Time
		resolvedBy   *string
		notes        *string
	)
	err := row.Scan(&inc.ID, &inc.UserID, &inc.Timestamp, &inc.IncidentType, &inc.Severity,
		&inc.ConversationID, &inc.TurnID, &inc.Context.UserRequest, &inc.Context.AIResponse,
		&inc.Rule.RuleID, &inc.Rule.RuleName, &inc.Rule.Reason, &inc.MatchedPhrase, &inc.MatchedRole,
		&notification, &resolvedAt, &resolvedBy, &notes,
		&inc.Status, &inc.DetectionCount, &inc.LastDetectedAt, &inc.EscalatedFrom)
	if err != nil {
		return nil, err
	}
	if len(notification) > 0 {
		var n FamilyNotification
		if err := json.Unmarshal(notification, &n); err != nil {
			return nil, fmt.Errorf("decoding family notification: %w", err)
		}
		inc.FamilyNotification = &n
	}
	if resolvedAt != nil {
		inc.Resolution = &Resolution{ResolvedAt: *resolvedAt}
		if resolvedBy != nil {
			inc.Resolution.ResolvedBy = *resolvedBy
		}
		if notes != nil {
			inc.Resolution.Notes = *notes
		}
	}
	return &inc, nil
}

func (s *PostgresStore) WithDedupLock(ctx context.Context, key DedupKey, fn func(tx StoreTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning dedup transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return mapConflict(fmt.Errorf("acquiring dedup lock: %w", err))
	}
	if err := fn(&pgStoreTx{tx: tx}); err != nil {
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(fmt.Errorf("committing dedup transaction: %w", err))
	}
	return nil
}

// mapConflict turns serialization failures, deadlocks and unique violations
// into ErrDedupRace so the tracker can retry.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %v", ErrDedupRace, err)
		}
	}
	return err
}

func insertIncident(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, inc *Incident) error {
	var notification []byte
	if inc.FamilyNotification != nil {
		var err error
		if notification, err = json.Marshal(inc.FamilyNotification); err != nil {
			return fmt.Errorf("encoding family notification: %w", err)
		}
	}
	_, err := q.Exec(ctx,
		`INSERT INTO safety_incidents (id, user_id, created_at, incident_type, severity, conversation_id, turn_id,
			user_request, ai_response, rule_id, rule_name, reason, matched_phrase, matched_role,
			family_notification, status, detection_count, last_detected_at, escalated_from)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		inc.ID, inc.UserID, inc.Timestamp, inc.IncidentType, inc.Severity, inc.ConversationID, inc.TurnID,
		inc.Context.UserRequest, inc.Context.AIResponse, inc.Rule.RuleID, inc.Rule.RuleName, inc.Rule.Reason,
		inc.MatchedPhrase, inc.MatchedRole, notification, inc.Status, inc.DetectionCount, inc.LastDetectedAt,
		inc.EscalatedFrom,
	)
	if err != nil {
		return fmt.Errorf("inserting incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, inc *Incident) error {
	return insertIncident(ctx, s.pool, inc)
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM safety_incidents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id uuid.UUID, res Resolution) (*Incident, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("beginning resolve transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inc, err := scanIncident(tx.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM safety_incidents WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading incident: %w", err)
	}
	if inc.Status == StatusResolved {
		return inc, false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE safety_incidents
		 SET status = $2, resolved_at = $3, resolved_by = $4, resolution_notes = $5
		 WHERE id = $1`,
		id, StatusResolved, res.ResolvedAt, res.ResolvedBy, res.Notes)
	if err != nil {
		return nil, false, fmt.Errorf("resolving incident: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("committing resolve: %w", err)
	}

	inc.Status = StatusResolved
	inc.Resolution = &res
	return inc, true, nil
}

func (s *PostgresStore) SetNotification(ctx context.Context, id uuid.UUID, n FamilyNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding family notification: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE safety_incidents SET family_notification = $2 WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("recording family notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Incident, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, params.Status)
		argIdx++
	}
	if params.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argIdx))
		args = append(args, params.Severity)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM safety_incidents WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting incidents: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	query := fmt.Sprintf(`SELECT `+incidentColumns+`
		 FROM safety_incidents WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	incidents, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

func (s *PostgresStore) ListOpen(ctx context.Context, userID uuid.UUID) ([]Incident, error) {
	return s.query(ctx,
		`SELECT `+incidentColumns+`
		 FROM safety_incidents
		 WHERE user_id = $1 AND status <> 'resolved'
		 ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Incident, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

type pgStoreTx struct {
	tx pgx.Tx
}

func (t *pgStoreTx) OpenIncidents(ctx context.Context, key DedupKey) ([]Incident, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+incidentColumns+`
		 FROM safety_incidents
		 WHERE conversation_id = $1 AND incident_type = $2 AND status = 'open'
		 ORDER BY last_detected_at DESC`,
		key.ConversationID, key.IncidentType)
	if err != nil {
		return nil, fmt.Errorf("querying open incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

func (t *pgStoreTx) Insert(ctx context.Context, inc *Incident) error {
	return insertIncident(ctx, t.tx, inc)
}

func (t *pgStoreTx) Bump(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE safety_incidents
		 SET detection_count = detection_count + 1, last_detected_at = GREATEST(last_detected_at, $2)
		 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("bumping incident: %w", err)
	}
	return nil
}

func (t *pgStoreTx) MarkEscalated(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE safety_incidents SET status = 'escalated' WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return fmt.Errorf("marking incident escalated: %w", err)
	}
	return nil
}
