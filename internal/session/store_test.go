package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb), mr
}

func storesUnderTest(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStoreTest(t)
	return map[string]Store{
		"redis":  redisStore,
		"memory": NewMemoryStore(),
	}
}

func TestNewSelectsFirstTenant(t *testing.T) {
	s := New("alice", []string{"acme", "globex"}, time.Hour)
	require.NotEmpty(t, s.ID)
	require.Equal(t, "acme", s.Tenant)
	require.Equal(t, []string{"acme", "globex"}, s.Tenants)

	empty := New("bob", nil, time.Hour)
	require.Equal(t, "", empty.Tenant)
	require.NotNil(t, empty.Tenants)

	require.NotEqual(t, s.ID, New("alice", nil, time.Hour).ID)
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := New("alice", []string{"acme"}, time.Hour)
			require.NoError(t, store.Save(ctx, sess))

			got, err := store.Get(ctx, sess.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, "alice", got.Username)
			require.Equal(t, "acme", got.Tenant)

			missing, err := store.Get(ctx, "unknown")
			require.NoError(t, err)
			require.Nil(t, missing)
		})
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := New("alice", nil, time.Hour)
			require.NoError(t, store.Save(ctx, sess))

			existed, err := store.Delete(ctx, sess.ID)
			require.NoError(t, err)
			require.True(t, existed)

			existed, err = store.Delete(ctx, sess.ID)
			require.NoError(t, err)
			require.False(t, existed)

			got, err := store.Get(ctx, sess.ID)
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestStoreConcurrentDeleteSingleWinner(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := New("alice", nil, time.Hour)
			require.NoError(t, store.Save(ctx, sess))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					existed, err := store.Delete(ctx, sess.ID)
					if err != nil {
						t.Errorf("delete: %v", err)
						return
					}
					if existed {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestStoreRejectsInvalidSession(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Save(context.Background(), &Session{ID: "x"})
			require.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	ctx := context.Background()
	sess := New("alice", nil, time.Minute)
	require.NoError(t, store.Save(ctx, sess))

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	existed, err := store.Delete(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestRedisStoreCorruptPayload(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	require.NoError(t, mr.Set(sessionKey("broken"), "{not json"))

	_, err := store.Get(context.Background(), "broken")
	require.Error(t, err)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	sess := New("alice", nil, time.Minute)
	require.NoError(t, store.Save(ctx, sess))

	now = now.Add(2 * time.Minute)
	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 0, store.Len())
}

func TestMemoryStorePrunesExpiredOnSave(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, New("alice", nil, time.Minute)))
	}
	require.Equal(t, 3, store.Len())

	// 一度も読まれずに期限切れになったものも次の保存で消える
	now = now.Add(2 * time.Minute)
	fresh := New("bob", nil, time.Hour)
	fresh.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, store.Save(ctx, fresh))
	require.Equal(t, []string{fresh.ID}, store.IDs())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sess := New("alice", []string{"acme"}, time.Hour)
	require.NoError(t, store.Save(ctx, sess))

	sess.Tenants[0] = "mutated"
	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"acme"}, got.Tenants)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	sess := New("alice", nil, time.Hour)
	got, ok := FromContext(NewContext(context.Background(), sess))
	require.True(t, ok)
	require.Equal(t, sess.ID, got.ID)
}
