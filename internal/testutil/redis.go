package testutil

import (
	"testing"
	"time"

	"entitlement_ledger/pkg/kv"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestKeyPrefix 测试使用的键前缀
const TestKeyPrefix = "test:"

// SetupTestRedis 启动内存 Redis，测试结束自动关闭
func SetupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

// SetupTestStore 返回基于内存 Redis 的 KV
func SetupTestStore(t *testing.T) (*kv.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	client, mr := SetupTestRedis(t)
	return kv.NewRedisStore(client, TestKeyPrefix), mr
}

// FixedClock 可手动推进的时钟
type FixedClock struct {
	Now time.Time
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{Now: now}
}

func (c *FixedClock) Func() func() time.Time {
	return func() time.Time { return c.Now }
}

func (c *FixedClock) Advance(d time.Duration) {
	c.Now = c.Now.Add(d)
}
