package testutil

import "github.com/gin-gonic/gin"

// WithIdentity 模拟 AuthMiddleware 写入上下文的身份
func WithIdentity(userID string, role int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("role", role)
		c.Next()
	}
}
