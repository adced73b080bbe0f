package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStore creates a test Redis store with miniredis
func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, opts...)
	return store, mr
}

func TestRedisStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, _ := setupRedisStore(t)
		return s
	})
}

func TestRedisStore_KeysAndTTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithPrefix("test"), WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("c1", baseTime)))

	assert.True(t, mr.Exists("test:call:c1"))
	assert.True(t, mr.Exists("test:calls:by_start"))
	assert.Equal(t, time.Hour, mr.TTL("test:call:c1"))

	score, err := mr.ZScore("test:calls:by_start", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(baseTime.UnixMilli()), score)
}

func TestRedisStore_NoTTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(0))
	require.NoError(t, store.Save(context.Background(), testRecord("c1", baseTime)))
	assert.Zero(t, mr.TTL("callkit:call:c1"))
}

func TestRedisStore_ExpiredRecordsArePruned(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("old", baseTime)))
	mr.FastForward(30 * time.Second)
	require.NoError(t, store.Save(ctx, testRecord("new", baseTime.Add(time.Hour))))
	mr.FastForward(45 * time.Second)

	recs, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)

	members, err := mr.ZMembers("callkit:calls:by_start")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)
}

func TestRedisStore_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStoreFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(context.Background()))

	_, err = NewRedisStoreFromURL("not a url")
	assert.Error(t, err)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	err := store.Save(context.Background(), testRecord("c1", baseTime))
	assert.Error(t, err)
	_, err = store.Load(context.Background(), "c1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
