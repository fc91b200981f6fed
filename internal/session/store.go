package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StoreType selects a session Store driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Store keeps live sessions and their per-session counters.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get returns ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)
	// Update persists s if its Version still matches the stored one and
	// increments it. A mismatch returns ErrVersionConflict.
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	// NextTurnID returns the next turn number of a conversation, starting at 1.
	NextTurnID(ctx context.Context, conversationID uuid.UUID) (int64, error)
	PhotosShown(ctx context.Context, id string) (int, error)
	AddPhotosShown(ctx context.Context, id string, n int) (int, error)
	// MarkLongConversation reports true only for the first call per session.
	MarkLongConversation(ctx context.Context, id string) (bool, error)
	LongConversationFired(ctx context.Context, id string) (bool, error)
}

// NewStore creates a Store for the given driver. The redis driver requires client.
func NewStore(storeType StoreType, client *redis.Client, ttl time.Duration) (Store, error) {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	switch storeType {
	case StoreTypeMemory:
		return NewInMemoryStore(), nil
	case StoreTypeRedis:
		if client == nil {
			return nil, errors.New("session: redis store requires a client")
		}
		return NewRedisStore(client, ttl), nil
	default:
		return nil, fmt.Errorf("session: unknown store type %q", storeType)
	}
}

const (
	fieldPhotosShown = "photos_shown"
	fieldLongConv    = "long_conversation"
)

// RedisStore implements Store with one JSON value per session, a counters
// hash beside it and a per-conversation turn sequence.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(id string) string  { return "session:" + id }
func countersKey(id string) string { return "session:" + id + ":counters" }
func turnSeqKey(conversationID uuid.UUID) string {
	return "turn_seq:" + conversationID.String()
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	sess.Version = 1
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(sess.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if !ok {
		return fmt.Errorf("creating session %s: %w", sess.ID, ErrVersionConflict)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	val, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, sess *Session) error {
	key := sessionKey(sess.ID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var stored Session
		if err := json.Unmarshal(val, &stored); err != nil {
			return fmt.Errorf("decoding session: %w", err)
		}
		if stored.Version != sess.Version {
			return ErrVersionConflict
		}

		next := *sess
		next.Version++
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("encoding session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.Expire(ctx, countersKey(sess.ID), s.ttl)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		if err != nil {
			return err
		}
		sess.Version = next.Version
		return nil
	}, key)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id), countersKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *RedisStore) NextTurnID(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	key := turnSeqKey(conversationID)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing turn id: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) PhotosShown(ctx context.Context, id string) (int, error) {
	n, err := s.client.HGet(ctx, countersKey(id), fieldPhotosShown).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading photo count: %w", err)
	}
	return n, nil
}

func (s *RedisStore) AddPhotosShown(ctx context.Context, id string, n int) (int, error) {
	key := countersKey(id)
	pipe := s.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, fieldPhotosShown, int64(n))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing photo count: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) MarkLongConversation(ctx context.Context, id string) (bool, error) {
	key := countersKey(id)
	pipe := s.client.TxPipeline()
	set := pipe.HSetNX(ctx, key, fieldLongConv, 1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("marking long conversation: %w", err)
	}
	return set.Val(), nil
}

func (s *RedisStore) LongConversationFired(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.HExists(ctx, countersKey(id), fieldLongConv).Result()
	if err != nil {
		return false, fmt.Errorf("reading long conversation latch: %w", err)
	}
	return ok, nil
}

// InMemoryStore implements Store in process memory.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	photos   map[string]int
	longConv map[string]bool
	turnSeq  map[uuid.UUID]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: map[string]Session{},
		photos:   map[string]int{},
		longConv: map[string]bool{},
		turnSeq:  map[uuid.UUID]int64{},
	}
}

func (s *InMemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("creating session %s: %w", sess.ID, ErrVersionConflict)
	}
	sess.Version = 1
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *InMemoryStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != sess.Version {
		return ErrVersionConflict
	}
	sess.Version++
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.photos, id)
	delete(s.longConv, id)
	return nil
}

func (s *InMemoryStore) NextTurnID(_ context.Context, conversationID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnSeq[conversationID]++
	return s.turnSeq[conversationID], nil
}

func (s *InMemoryStore) PhotosShown(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.photos[id], nil
}

func (s *InMemoryStore) AddPhotosShown(_ context.Context, id string, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[id] += n
	return s.photos[id], nil
}

func (s *InMemoryStore) MarkLongConversation(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.longConv[id] {
		return false, nil
	}
	s.longConv[id] = true
	return true, nil
}

func (s *InMemoryStore) LongConversationFired(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.longConv[id], nil
}
