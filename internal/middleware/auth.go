// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"pai-kb-go/internal/model"
	"pai-kb-go/internal/rag"
	"pai-kb-go/internal/service"
	"pai-kb-go/pkg/log"
	"pai-kb-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ContextUserKey 是 gin 上下文中存放 *model.User 的键。
const ContextUserKey = "user"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并将完整的 User 对象存入 Gin 的上下文中。
// EventSource 无法设置请求头，因此也接受 token 查询参数。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			abortUnauthorized(c, "请求未包含授权信息")
			return
		}

		claims, err := jwtManager.VerifyAccessToken(tokenString)
		if err != nil {
			abortUnauthorized(c, "无效或已过期的 token")
			return
		}
		if out, err := userService.IsLoggedOut(c.Request.Context(), tokenString); err != nil {
			log.Warnf("[Auth] 查询 token 黑名单失败: %v", err)
		} else if out {
			abortUnauthorized(c, "token 已注销")
			return
		}

		// 使用 claims 中的用户名从数据库获取完整的用户信息
		user, err := userService.GetProfile(claims.Username)
		if err != nil {
			abortUnauthorized(c, "用户不存在")
			return
		}

		c.Set(ContextUserKey, user)
		c.Set("claims", claims)
		c.Request = c.Request.WithContext(rag.WithUserID(c.Request.Context(), user.ID))
		c.Next()
	}
}

// ExtractToken 依次从 Authorization 头和 token 查询参数中读取 token。
func ExtractToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	return c.Query("token")
}

// CurrentUser 返回 AuthMiddleware 注入的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok && user != nil
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
		"data":    nil,
	})
}
