package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kusheet/internal/model"
)

const ctxUserKey = "kusheet.user"

// TokenLookup 按访问令牌查找用户。
type TokenLookup interface {
	FindByToken(ctx context.Context, token string) (*model.User, error)
}

// bearerToken 优先读取 Authorization 头；SSE 和 WebSocket 无法设置自定义头，回退到 token 查询参数。
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

// RequireUser 校验令牌并把用户放入上下文。
func RequireUser(users TokenLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorBody{Error: "missing token"})
			return
		}
		user, err := users.FindByToken(c.Request.Context(), token)
		if err != nil || user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorBody{Error: "invalid token"})
			return
		}
		c.Set(ctxUserKey, *user)
		c.Next()
	}
}

func currentUser(c *gin.Context) model.User {
	v, _ := c.Get(ctxUserKey)
	user, _ := v.(model.User)
	return user
}
