package kv_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"entitlement_ledger/internal/testutil"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_GetSet(t *testing.T) {
	store, mr := testutil.SetupTestStore(t)
	ctx := context.Background()

	t.Run("missing key returns ErrNil", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, kv.ErrNil)
	})

	t.Run("set applies prefix", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "a", "1", 0))
		got, err := mr.Get(testutil.TestKeyPrefix + "a")
		require.NoError(t, err)
		assert.Equal(t, "1", got)
	})

	t.Run("keep ttl on overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "ttl", "v1", time.Minute))
		require.NoError(t, store.SetKeepTTL(ctx, "ttl", "v2"))
		assert.Equal(t, time.Minute, mr.TTL(testutil.TestKeyPrefix+"ttl"))

		require.NoError(t, store.Persist(ctx, "ttl"))
		assert.Equal(t, time.Duration(0), mr.TTL(testutil.TestKeyPrefix+"ttl"))
	})
}

func TestRedisStore_SetNX(t *testing.T) {
	store, _ := testutil.SetupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.SetNX(ctx, "lock", strconv.Itoa(i), 0)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestRedisStore_IncrWithExpire(t *testing.T) {
	store, mr := testutil.SetupTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := store.IncrWithExpire(ctx, "counter", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, time.Hour, mr.TTL(testutil.TestKeyPrefix+"counter"))

	mr.FastForward(time.Hour + time.Second)

	n, err := store.IncrWithExpire(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "window restarts after expiry")
}

func TestRedisStore_ListPush(t *testing.T) {
	store, _ := testutil.SetupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.ListPush(ctx, "list", 3, strconv.Itoa(i)))
	}

	vals, err := store.ListRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, vals)

	n, err := store.ListLen(ctx, "list")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRedisStore_Update(t *testing.T) {
	store, _ := testutil.SetupTestStore(t)
	ctx := context.Background()

	t.Run("concurrent updates are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Update(ctx, "cas", func(cur string, exists bool) (string, error) {
					n := 0
					if exists {
						n, _ = strconv.Atoi(cur)
					}
					return strconv.Itoa(n + 1), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, "cas")
		require.NoError(t, err)
		assert.Equal(t, "20", got)
	})

	t.Run("no change skips write", func(t *testing.T) {
		err := store.Update(ctx, "untouched", func(string, bool) (string, error) {
			return "", kv.ErrNoChange
		})
		require.NoError(t, err)
		ok, err := store.Exists(ctx, "untouched")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("callback error propagates", func(t *testing.T) {
		boom := apperr.Conflict("boom")
		err := store.Update(ctx, "cas", func(string, bool) (string, error) {
			return "", boom
		})
		assert.True(t, errors.Is(err, apperr.ErrConflict))
	})
}

func TestUpdateJSON(t *testing.T) {
	store, _ := testutil.SetupTestStore(t)
	ctx := context.Background()

	type doc struct {
		N int `json:"n"`
	}

	for i := 0; i < 3; i++ {
		err := kv.UpdateJSON(ctx, store, "doc", func(d *doc, exists bool) error {
			assert.Equal(t, i > 0, exists)
			d.N++
			return nil
		})
		require.NoError(t, err)
	}

	var got doc
	require.NoError(t, kv.GetJSON(ctx, store, "doc", &got))
	assert.Equal(t, 3, got.N)
}

func TestRedisStore_StorageError(t *testing.T) {
	store, mr := testutil.SetupTestStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, apperr.ErrStorage)
}
