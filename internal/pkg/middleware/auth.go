package middleware

import (
	"net/http"
	"strings"

	"entitlement_ledger/pkg/response"
	"entitlement_ledger/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware JWT认证中间件
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Authorization header is required")
			c.Abort()
			return
		}

		// 检查格式 "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid or expired token")
			c.Abort()
			return
		}

		// 将 userID 和 role 存入上下文
		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// AdminMiddleware 管理员权限中间件，需放在 AuthMiddleware 之后
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Error(c, http.StatusUnauthorized, response.ErrNoPermission, "Unauthorized")
			c.Abort()
			return
		}

		roleInt, ok := role.(int)
		if !ok || roleInt < utils.RoleOperator {
			response.Error(c, http.StatusForbidden, response.ErrNoPermission, "Admin permission required")
			c.Abort()
			return
		}

		c.Next()
	}
}

// CanActFor 本人或运营角色可以操作指定用户，需放在 AuthMiddleware 之后
func CanActFor(c *gin.Context, userID string) bool {
	if role, ok := c.Get("role"); ok {
		if r, ok := role.(int); ok && r >= utils.RoleOperator {
			return true
		}
	}
	current := c.GetString("userID")
	return current != "" && current == userID
}

// RequireSelf 拒绝操作他人数据的请求，返回 false 时已写入响应
func RequireSelf(c *gin.Context, userID string) bool {
	if CanActFor(c, userID) {
		return true
	}
	response.Error(c, http.StatusForbidden, response.ErrNoPermission, "cannot act for another user")
	return false
}
