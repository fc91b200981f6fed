package photos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the photo catalog and records displays. The core never
// creates or deletes photos.
type Repository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Photo, error)
	// MarkShown stamps every id in one transaction. If any id does not belong
	// to userID nothing is changed and ErrNotFound is returned.
	MarkShown(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Photo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, blob_ref, thumbnail_ref, manual_tags, caption, location,
		        captured_date, last_shown_at, shown_count, trigger_keywords
		 FROM photos
		 WHERE user_id = $1
		 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying photos: %w", err)
	}
	defer rows.Close()

	var out []Photo
	for rows.Next() {
		var p Photo
		if err := rows.Scan(&p.ID, &p.UserID, &p.BlobRef, &p.ThumbnailRef, &p.ManualTags, &p.Caption,
			&p.Location, &p.CapturedDate, &p.LastShownAt, &p.ShownCount, &p.TriggerKeywords); err != nil {
			return nil, fmt.Errorf("scanning photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkShown(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning mark shown: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE photos
		 SET last_shown_at = $3, shown_count = shown_count + 1
		 WHERE user_id = $1 AND id = ANY($2)`,
		userID, ids, at)
	if err != nil {
		return fmt.Errorf("marking photos shown: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing mark shown: %w", err)
	}
	return nil
}
