package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kusheet/internal/model"
	"kusheet/internal/service"
)

const (
	sseBuffer    = 64
	sseKeepAlive = 25 * time.Second
)

// ChatHandler 提供聊天的 REST 接口与 SSE 回退流。
type ChatHandler struct {
	hub     *service.Hub
	chatSvc *service.ChatService
}

func NewChatHandler(hub *service.Hub, chatSvc *service.ChatService) *ChatHandler {
	return &ChatHandler{hub: hub, chatSvc: chatSvc}
}

// Register 挂载路由，group 需已挂 RequireUser。
func (h *ChatHandler) Register(group *gin.RouterGroup) {
	group.GET("/groups/:groupId/chat", h.GetChat)
	group.GET("/groups/:groupId/chat/messages", h.History)
	group.POST("/groups/:groupId/chat/messages", h.PostMessage)
	group.GET("/groups/:groupId/chat/stream", h.Stream)
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotMember):
		c.JSON(http.StatusForbidden, model.ErrorBody{Error: err.Error()})
	case errors.Is(err, service.ErrMessageIDConflict):
		c.JSON(http.StatusConflict, model.ErrorBody{Error: err.Error()})
	case errors.Is(err, service.ErrEmptyContent), errors.Is(err, service.ErrInvalidMessageID):
		c.JSON(http.StatusBadRequest, model.ErrorBody{Error: err.Error()})
	default:
		log.Printf("chat handler error path=%s: %v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, model.ErrorBody{Error: "internal error"})
	}
}

// GetChat 获取（或创建）频道与最近消息；非成员返回 403。
func (h *ChatHandler) GetChat(c *gin.Context) {
	snap, err := h.chatSvc.FetchChat(c.Request.Context(), currentUser(c).ID, c.Param("groupId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.DataEnvelope[model.ChatSnapshot]{Data: snap})
}

// PostMessage 是 socket 不可用时的发送回退路径。
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req model.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorBody{Error: "invalid body"})
		return
	}
	msg, err := h.chatSvc.Send(c.Request.Context(), currentUser(c), c.Param("groupId"), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.DataEnvelope[*model.Message]{Data: msg})
}

// History 按 seq 游标拉取：?after_seq=&limit=
func (h *ChatHandler) History(c *gin.Context) {
	afterSeq, _ := strconv.ParseUint(c.DefaultQuery("after_seq", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	page, err := h.chatSvc.History(c.Request.Context(), currentUser(c).ID, c.Param("groupId"), afterSeq, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.DataEnvelope[model.HistoryPage]{Data: page})
}

// sseSubscriber 把 Hub 推送转成 channel，写满时丢弃并返回错误，不阻塞 Hub。
type sseSubscriber struct {
	ch chan model.Message
}

func (s *sseSubscriber) Deliver(msg model.Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return errors.New("sse subscriber buffer full")
	}
}

// Stream 以 text/event-stream 推送小组新消息，每条消息一个 message 事件。
func (h *ChatHandler) Stream(c *gin.Context) {
	groupID := c.Param("groupId")
	user := currentUser(c)
	if err := h.chatSvc.CheckMember(c.Request.Context(), user.ID, groupID); err != nil {
		writeServiceError(c, err)
		return
	}

	sub := &sseSubscriber{ch: make(chan model.Message, sseBuffer)}
	h.hub.Subscribe(groupID, sub)
	defer h.hub.Unsubscribe(groupID, sub)

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// 先把响应头刷出去，客户端据此确认流已建立
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg := <-sub.ch:
			c.SSEvent("message", msg)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UnixMilli())
			return true
		}
	})
}
