package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"entitlement_ledger/pkg/kv"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiter 基于 KV 的固定窗口限流，多实例共享计数
type RateLimiter struct {
	store    kv.Store
	scope    string
	requests int64
	window   time.Duration
	skip     []string
	now      func() time.Time
}

// NewRateLimiter 创建限流器，scope 用于区分不同接口组
func NewRateLimiter(store kv.Store, scope string, requests int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:    store,
		scope:    scope,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// WithClock 替换时钟
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Skip 路径前缀匹配的请求不计数，如支付回调
func (l *RateLimiter) Skip(prefixes ...string) *RateLimiter {
	l.skip = append(l.skip, prefixes...)
	return l
}

func (l *RateLimiter) skipped(path string) bool {
	for _, p := range l.skip {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (l *RateLimiter) windowKey(ip string) string {
	slot := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("ratelimit:%s:%s:%d", l.scope, ip, slot)
}

// Middleware 超限返回 429；存储异常时放行并记录日志
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.requests <= 0 || l.window <= 0 || l.skipped(c.Request.URL.Path) {
			c.Next()
			return
		}

		ip := c.ClientIP()
		count, err := l.store.IncrWithExpire(c.Request.Context(), l.windowKey(ip), l.window)
		if err != nil {
			logger.Log.Warn("rate limit counter unavailable",
				zap.String("scope", l.scope),
				zap.String("ip", ip),
				zap.Error(err))
			c.Next()
			return
		}

		remaining := l.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(l.requests, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > l.requests {
			response.Error(c, http.StatusTooManyRequests, response.ErrTooManyRequests, "Too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
