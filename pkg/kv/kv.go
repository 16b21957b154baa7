// Package kv 封装远程 KV 存储的单键原子原语。
//
// 存储只保证单键原子性：GET / SET / SETNX / INCR / EXPIRE / 列表 push+trim。
// 不提供跨键事务，所有“恰好一次”语义都必须建立在 SetNX 之上。
// Update 基于 WATCH/MULTI 实现单键 CAS 循环，用于读-改-写场景。
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNil 键不存在
	ErrNil = errors.New("kv: key not found")
	// ErrNoChange 由 UpdateFunc 返回，表示无需写回
	ErrNoChange = errors.New("kv: no change")
	// ErrCASExhausted CAS 重试次数耗尽
	ErrCASExhausted = errors.New("kv: compare-and-swap retries exhausted")
)

// UpdateFunc 接收当前值，返回新值；返回 ErrNoChange 时跳过写入
type UpdateFunc func(current string, exists bool) (string, error)

// Store KV 原语
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set 无条件写入，ttl 为 0 表示永不过期（会清除已有 TTL）
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetKeepTTL 无条件写入并保留原有 TTL
	SetKeepTTL(ctx context.Context, key, value string) error
	// SetNX 仅当键不存在时创建，成功返回 true
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	// IncrWithExpire 原子自增，首次自增时设置窗口过期时间
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error)
	ExpireAt(ctx context.Context, key string, at time.Time) error
	Persist(ctx context.Context, key string) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// ListPush 追加到列表尾部，maxLen > 0 时只保留最新的 maxLen 个元素
	ListPush(ctx context.Context, key string, maxLen int64, values ...string) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListLen(ctx context.Context, key string) (int64, error)
	// Update 单键 CAS：读取、计算、在值未被并发修改的前提下写回（保留 TTL）
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Ping(ctx context.Context) error
}

// GetJSON 读取并反序列化
func GetJSON(ctx context.Context, s Store, key string, dest interface{}) error {
	val, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// SetJSON 序列化并写入
func SetJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data), ttl)
}

// SetNXJSON 序列化并条件创建
func SetNXJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, string(data), ttl)
}

// UpdateJSON 以 JSON 文档为单位的 CAS 更新
// fn 修改 cur 即可；键不存在时 cur 为零值，exists 为 false
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(cur *T, exists bool) error) error {
	return s.Update(ctx, key, func(current string, exists bool) (string, error) {
		var v T
		if exists {
			if err := json.Unmarshal([]byte(current), &v); err != nil {
				return "", err
			}
		}
		if err := fn(&v, exists); err != nil {
			return "", err
		}
		data, err := json.Marshal(&v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}
