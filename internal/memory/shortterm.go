package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ShortTermStore keeps the rolling transcript window per user in Redis lists.
type ShortTermStore struct {
	client *redis.Client
}

// NewShortTermStore creates a new short-term memory store.
func NewShortTermStore(client *redis.Client) *ShortTermStore {
	return &ShortTermStore{client: client}
}

func turnsKey(userID uuid.UUID) string {
	return fmt.Sprintf("turns:%s", userID.String())
}

// Recent returns the last `limit` turns for the user, oldest first.
func (s *ShortTermStore) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]ConversationTurn, error) {
	key := turnsKey(userID)

	// LRANGE key -limit -1 returns the last `limit` elements
	vals, err := s.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	turns := make([]ConversationTurn, 0, len(vals))
	for _, v := range vals {
		var turn ConversationTurn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			slog.Warn("memory: skipping malformed turn", "key", key, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Append adds turns to the user's list in order and trims it to maxTurns.
func (s *ShortTermStore) Append(ctx context.Context, userID uuid.UUID, turns []ConversationTurn, maxTurns int, ttl time.Duration) error {
	if len(turns) == 0 {
		return nil
	}
	key := turnsKey(userID)

	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshaling turn %d: %w", turn.TurnID, err)
		}
		values = append(values, string(data))
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-maxTurns), -1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Clear deletes the transcript window for the user.
func (s *ShortTermStore) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.client.Del(ctx, turnsKey(userID)).Err()
}
