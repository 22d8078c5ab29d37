package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Deps 汇总路由需要的处理器。
type Deps struct {
	Users     TokenLookup
	WebSocket *WebSocketHandler
	Chat      *ChatHandler
	PromptPay *PromptPayHandler
}

// NewRouter 初始化 Gin，引入基础日志与 panic 恢复。
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := router.Group("/api")
	if d.PromptPay != nil {
		d.PromptPay.Register(api)
	}

	authed := router.Group("/", RequireUser(d.Users))
	if d.WebSocket != nil {
		authed.GET("/ws", d.WebSocket.HandleWebSocket)
	}
	if d.Chat != nil {
		d.Chat.Register(authed.Group("/api"))
	}
	return router
}
