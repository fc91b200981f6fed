package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines long-term memory persistence. Rows are append-only;
// only the access counters of an existing row are ever updated.
type Repository interface {
	MarkSessionStarted(ctx context.Context, userID uuid.UUID, at time.Time) error
	HasSessions(ctx context.Context, userID uuid.UUID) (bool, error)
	Latest(ctx context.Context, userID uuid.UUID, memType MemoryType, key string) (*LongTermMemory, error)
	Insert(ctx context.Context, mem *LongTermMemory) error
	Touch(ctx context.Context, ids []uuid.UUID, at time.Time) error
	Ranked(ctx context.Context, userID uuid.UUID, limit int) ([]LongTermMemory, error)
	History(ctx context.Context, userID uuid.UUID, memType MemoryType, key string) ([]LongTermMemory, error)
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new memory repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const memoryColumns = `id, user_id, memory_type, key, value, extracted_at, context, importance, confidence, last_accessed, access_count, tags`

func scanMemory(row pgx.Row) (LongTermMemory, error) {
	var m LongTermMemory
	err := row.Scan(&m.ID, &m.UserID, &m.MemoryType, &m.Key, &m.Value, &m.ExtractedAt, &m.Context,
		&m.Importance, &m.Confidence, &m.LastAccessed, &m.AccessCount, &m.Tags)
	return m, err
}

func (r *PostgresRepository) MarkSessionStarted(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_sessions (user_id, first_started_at, last_started_at, session_count)
		 VALUES ($1, $2, $2, 1)
		 ON CONFLICT (user_id) DO UPDATE
		 SET last_started_at = EXCLUDED.last_started_at,
		     session_count = user_sessions.session_count + 1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("marking session started: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasSessions(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_sessions WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user sessions: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Latest(ctx context.Context, userID uuid.UUID, memType MemoryType, key string) (*LongTermMemory, error) {
	m, err := scanMemory(r.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+`
		 FROM long_term_memories
		 WHERE user_id = $1 AND memory_type = $2 AND key = $3
		 ORDER BY extracted_at DESC, seq DESC
		 LIMIT 1`,
		userID, memType, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest memory: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, mem *LongTermMemory) error {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	if mem.Tags == nil {
		mem.Tags = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO long_term_memories (`+memoryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		mem.ID, mem.UserID, mem.MemoryType, mem.Key, mem.Value, mem.ExtractedAt, mem.Context,
		mem.Importance, mem.Confidence, mem.LastAccessed, mem.AccessCount, mem.Tags,
	)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Touch(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE long_term_memories
		 SET last_accessed = $2, access_count = access_count + 1
		 WHERE id = ANY($1)`,
		ids, at,
	)
	if err != nil {
		return fmt.Errorf("touching memories: %w", err)
	}
	return nil
}

// Ranked returns the newest version of every (type, key), ordered by
// importance, then confidence, then last access.
func (r *PostgresRepository) Ranked(ctx context.Context, userID uuid.UUID, limit int) ([]LongTermMemory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+memoryColumns+`
		 FROM (
		     SELECT DISTINCT ON (memory_type, key) *
		     FROM long_term_memories
		     WHERE user_id = $1
		     ORDER BY memory_type, key, extracted_at DESC, seq DESC
		 ) latest
		 ORDER BY CASE importance WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
		          confidence DESC,
		          last_accessed DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ranking memories: %w", err)
	}
	defer rows.Close()

	var memories []LongTermMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (r *PostgresRepository) History(ctx context.Context, userID uuid.UUID, memType MemoryType, key string) ([]LongTermMemory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+memoryColumns+`
		 FROM long_term_memories
		 WHERE user_id = $1 AND memory_type = $2 AND key = $3
		 ORDER BY extracted_at DESC, seq DESC`,
		userID, memType, key,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memory history: %w", err)
	}
	defer rows.Close()

	var memories []LongTermMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
