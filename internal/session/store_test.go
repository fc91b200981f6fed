package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func storeDrivers(t *testing.T) map[string]Store {
	t.Helper()
	rs, _ := setupRedisStore(t)
	return map[string]Store{
		"redis":  rs,
		"memory": NewInMemoryStore(),
	}
}

func TestStore_OptimisticLocking(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := &Session{ID: uuid.NewString(), UserID: uuid.New(), ConversationID: uuid.New()}
			require.NoError(t, store.Create(ctx, sess))
			assert.EqualValues(t, 1, sess.Version)

			a, err := store.Get(ctx, sess.ID)
			require.NoError(t, err)
			b, err := store.Get(ctx, sess.ID)
			require.NoError(t, err)

			a.TurnCount = 1
			require.NoError(t, store.Update(ctx, a))
			assert.EqualValues(t, 2, a.Version)

			b.TurnCount = 5
			assert.ErrorIs(t, store.Update(ctx, b), ErrVersionConflict)

			stored, err := store.Get(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, stored.TurnCount)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Update(context.Background(), &Session{ID: "nope"}), ErrNotFound)
		})
	}
}

func TestStore_Counters(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := uuid.New()

			for want := int64(1); want <= 3; want++ {
				id, err := store.NextTurnID(ctx, conv)
				require.NoError(t, err)
				assert.Equal(t, want, id)
			}
			other, err := store.NextTurnID(ctx, uuid.New())
			require.NoError(t, err)
			assert.EqualValues(t, 1, other)

			n, err := store.PhotosShown(ctx, "s1")
			require.NoError(t, err)
			assert.Zero(t, n)
			n, err = store.AddPhotosShown(ctx, "s1", 3)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			n, err = store.PhotosShown(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			first, err := store.MarkLongConversation(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, first)
			again, err := store.MarkLongConversation(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, again)
			fired, err := store.LongConversationFired(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, fired)
		})
	}
}

func TestRedisStore_SessionExpires(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	sess := &Session{ID: uuid.NewString()}
	require.NoError(t, store.Create(ctx, sess))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(StoreTypeRedis, nil, time.Hour)
	assert.Error(t, err)
	_, err = NewStore("etcd", nil, time.Hour)
	assert.Error(t, err)
	s, err := NewStore(StoreTypeMemory, nil, 0)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)
}
