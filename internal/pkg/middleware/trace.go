package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceHeader   = "X-Trace-ID"
	maxTraceIDLen = 64
)

type traceKey struct{}

// TraceMiddleware 为每个请求分配追踪 ID，网关回调排查时用于串联日志
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 调用方传入的 ID 过长时视为无效
		traceID := c.GetHeader(traceHeader)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.New().String()
		}

		c.Set("traceID", traceID)
		c.Header(traceHeader, traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), traceKey{}, traceID))

		c.Next()
	}
}

// TraceID 从请求上下文读取追踪 ID
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
