package kv

import (
	"context"
	"errors"
	"time"

	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// casMaxRetries WATCH 冲突后的最大重试次数
const casMaxRetries = 32

// Lua 脚本：自增，首次创建时设置过期时间（固定窗口计数器）
var incrWithExpireScript = redis.NewScript(`
	local v = redis.call("INCR", KEYS[1])
	if v == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return v
`)

// RedisStore 基于 Redis 的 Store 实现
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis KV；prefix 会加在所有键前面
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// observe 记录操作耗时，并把底层错误统一成 StorageError
func observe(op string, start time.Time, err error) error {
	success := err == nil || errors.Is(err, redis.Nil)
	metrics.GetGlobalCollector().RecordKVOperation(op, time.Since(start), success)
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	return apperr.Storage("kv "+op, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	val, err := s.client.Get(ctx, s.key(key)).Result()
	return val, observe("get", start, err)
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.client.Set(ctx, s.key(key), value, ttl).Err()
	return observe("set", start, err)
}

func (s *RedisStore) SetKeepTTL(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.client.SetArgs(ctx, s.key(key), value, redis.SetArgs{KeepTTL: true}).Err()
	return observe("set", start, err)
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	return ok, observe("setnx", start, err)
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	v, err := s.client.Incr(ctx, s.key(key)).Result()
	return v, observe("incr", start, err)
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	v, err := s.client.Decr(ctx, s.key(key)).Result()
	return v, observe("decr", start, err)
}

func (s *RedisStore) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	start := time.Now()
	v, err := incrWithExpireScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64()
	return v, observe("incr_expire", start, err)
}

func (s *RedisStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	start := time.Now()
	err := s.client.ExpireAt(ctx, s.key(key), at).Err()
	return observe("expireat", start, err)
}

func (s *RedisStore) Persist(ctx context.Context, key string) error {
	start := time.Now()
	err := s.client.Persist(ctx, s.key(key)).Err()
	return observe("persist", start, err)
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	start := time.Now()
	err := s.client.Del(ctx, full...).Err()
	return observe("del", start, err)
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	return n > 0, observe("exists", start, err)
}

func (s *RedisStore) ListPush(ctx context.Context, key string, maxLen int64, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	full := s.key(key)
	start := time.Now()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, full, args...)
		if maxLen > 0 {
			pipe.LTrim(ctx, full, -maxLen, -1)
		}
		return nil
	})
	return observe("lpush", start, err)
}

func (s *RedisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	begin := time.Now()
	vals, err := s.client.LRange(ctx, s.key(key), start, stop).Result()
	return vals, observe("lrange", begin, err)
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	begin := time.Now()
	n, err := s.client.LLen(ctx, s.key(key)).Result()
	return n, observe("llen", begin, err)
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	full := s.key(key)
	var fnErr error

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, full).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		next, err := fn(cur, exists)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if exists {
				pipe.SetArgs(ctx, full, next, redis.SetArgs{KeepTTL: true})
			} else {
				pipe.Set(ctx, full, next, 0)
			}
			return nil
		})
		return err
	}

	start := time.Now()
	for i := 0; i < casMaxRetries; i++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, full)
		if fnErr != nil {
			metrics.GetGlobalCollector().RecordKVOperation("cas", time.Since(start), true)
			if errors.Is(fnErr, ErrNoChange) {
				return nil
			}
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			// 值被并发修改，重新读取后重试
			continue
		}
		return observe("cas", start, err)
	}
	return observe("cas", start, ErrCASExhausted)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()
	return observe("ping", start, s.client.Ping(ctx).Err())
}

var _ Store = (*RedisStore)(nil)
