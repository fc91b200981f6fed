package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists and lists audit entries.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	ListByOwner(ctx context.Context, ownerUserID uuid.UUID, params ListParams) ([]Entry, int64, error)
	ListByResource(ctx context.Context, ownerUserID, resourceID uuid.UUID, params ListParams) ([]Entry, int64, error)
}

// PostgresRepository handles audit_logs PostgreSQL operations.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new audit PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert persists a single audit entry. Replays of an entry with the same ID
// are ignored.
func (r *PostgresRepository) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, owner_user_id, event_type, severity, resource_type, resource_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.OwnerUserID, e.EventType, e.Severity, e.ResourceType, e.ResourceID, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListByOwner returns paginated audit entries for an owner with optional filters.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerUserID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	return r.list(ctx, ownerUserID, nil, params)
}

// ListByResource returns paginated audit entries for one resource, such as an incident.
func (r *PostgresRepository) ListByResource(ctx context.Context, ownerUserID, resourceID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	return r.list(ctx, ownerUserID, &resourceID, params)
}

func (r *PostgresRepository) list(ctx context.Context, ownerUserID uuid.UUID, resourceID *uuid.UUID, params ListParams) ([]Entry, int64, error) {
	params = params.normalized()

	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	add("owner_user_id = $%d", ownerUserID)
	if resourceID != nil {
		add("resource_id = $%d", *resourceID)
	}
	if params.EventType != "" {
		add("event_type = $%d", params.EventType)
	}
	if params.Severity != "" {
		add("severity = $%d", params.Severity)
	}
	if params.From != nil {
		add("created_at >= $%d", *params.From)
	}
	if params.To != nil {
		add("created_at <= $%d", *params.To)
	}

	where := strings.Join(conditions, " AND ")

	var totalCount int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs WHERE "+where, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, owner_user_id, event_type, severity, resource_type, resource_id, details, created_at
		 FROM audit_logs WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OwnerUserID, &e.EventType, &e.Severity,
			&e.ResourceType, &e.ResourceID, &e.Details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating audit entries: %w", err)
	}

	return entries, totalCount, nil
}
