package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kusheet/internal/model"
	"kusheet/internal/service"
)

const (
	readDeadline = 90 * time.Second // 允许心跳丢 2-3 次（30s/跳）
	writeTimeout = 10 * time.Second // 写超时防止阻塞
	readLimit    = int64(8 << 10)   // 单帧最大 8KB
	sendTimeout  = 3 * time.Second  // chat:send 服务端处理上限，超时回 ack{timeout:true}
	sendQueue    = 64               // 每个连接待推送消息上限
)

var errSlowClient = errors.New("websocket send queue full")

// WebSocketHandler 负责握手、房间加入/离开以及消息读循环。
type WebSocketHandler struct {
	hub      *service.Hub
	chatSvc  *service.ChatService
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建 Handler，注入房间 Hub 与聊天服务。
func NewWebSocketHandler(hub *service.Hub, chatSvc *service.ChatService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			// 生产环境需校验 Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsClient 是一条已认证的 socket 连接，同时作为 Hub 的订阅者。
// 推送消息先进 send 队列，由 writeLoop 写出，Hub 广播不等待网络写。
type wsClient struct {
	conn      *websocket.Conn
	user      model.User
	mu        sync.Mutex // gorilla 连接不支持并发写
	send      chan model.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, user model.User) *wsClient {
	return &wsClient{
		conn: conn,
		user: user,
		send: make(chan model.Message, sendQueue),
		done: make(chan struct{}),
	}
}

// shutdown 关闭底层连接，readLoop 随之退出。
func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

func (c *wsClient) writeFrame(frame model.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(frame)
}

func (c *wsClient) emit(event, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.writeFrame(model.Frame{Event: event, ID: id, Data: raw})
}

// Deliver 实现 service.Subscriber，只入队不阻塞。
// 队列满说明客户端读得太慢，直接断开，客户端重连后重新拉取。
func (c *wsClient) Deliver(msg model.Message) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		log.Printf("用户 %s 推送队列已满，断开连接", c.user.ID)
		c.shutdown()
		return errSlowClient
	}
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.emit(model.EventMessage, "", msg); err != nil {
				log.Printf("推送用户 %s 消息失败: %v", c.user.ID, err)
				c.shutdown()
				return
			}
		}
	}
}

// HandleWebSocket 提供给 Gin 的路由函数，需挂在 RequireUser 之后。
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	user := currentUser(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("用户 %s 升级 WebSocket 失败: %v", user.ID, err)
		return
	}

	client := newWSClient(conn, user)
	log.Printf("用户 %s 已连接", user.ID)

	// 独立 goroutine 读写，避免阻塞握手返回
	go client.writeLoop()
	go h.readLoop(client)
}

// readLoop 读取客户端帧并分发。
func (h *WebSocketHandler) readLoop(client *wsClient) {
	conn := client.conn
	defer func() {
		h.hub.UnsubscribeAll(client)
		close(client.done)
		client.shutdown()
		log.Printf("用户 %s 连接关闭", client.user.ID)
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		// 客户端 Pong 刷新超时
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		var frame model.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("读取用户 %s 消息失败: %v", client.user.ID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		if err := h.dispatch(client, frame); err != nil {
			log.Printf("处理帧失败 user=%s event=%s: %v", client.user.ID, frame.Event, err)
			return
		}
	}
}

// dispatch 返回的错误只代表写连接失败，业务错误通过 ack 告知客户端。
func (h *WebSocketHandler) dispatch(client *wsClient, frame model.Frame) error {
	switch frame.Event {
	case model.EventPing:
		return client.emit(model.EventPong, frame.ID, nil)
	case model.EventJoin:
		return h.handleJoin(client, frame)
	case model.EventLeave:
		var req model.JoinRequest
		if err := json.Unmarshal(frame.Data, &req); err == nil && req.GroupID != "" {
			h.hub.Unsubscribe(req.GroupID, client)
		}
		return nil
	case model.EventSend:
		return h.handleSend(client, frame)
	default:
		log.Printf("收到用户 %s 的未知事件 event=%s id=%s", client.user.ID, frame.Event, frame.ID)
		if frame.ID != "" {
			return client.emit(model.EventAck, frame.ID, model.Ack{OK: false, Error: "unknown event"})
		}
		return nil
	}
}

func (h *WebSocketHandler) handleJoin(client *wsClient, frame model.Frame) error {
	var req model.JoinRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.GroupID == "" {
		return client.emit(model.EventAck, frame.ID, model.Ack{OK: false, Error: "groupId required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := h.chatSvc.CheckMember(ctx, client.user.ID, req.GroupID); err != nil {
		msg := "join failed"
		if errors.Is(err, service.ErrNotMember) {
			msg = "forbidden"
		}
		return client.emit(model.EventAck, frame.ID, model.Ack{OK: false, Error: msg})
	}

	h.hub.Subscribe(req.GroupID, client)
	return client.emit(model.EventAck, frame.ID, model.Ack{OK: true})
}

func (h *WebSocketHandler) handleSend(client *wsClient, frame model.Frame) error {
	var req model.SendRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.GroupID == "" {
		return client.emit(model.EventAck, frame.ID, model.Ack{OK: false, Error: "invalid payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg, err := h.chatSvc.Send(ctx, client.user, req.GroupID, req)
	switch {
	case err == nil:
		return client.emit(model.EventAck, frame.ID, model.Ack{OK: true, Data: msg})
	case errors.Is(err, context.DeadlineExceeded):
		return client.emit(model.EventAck, frame.ID, model.Ack{OK: false, Timeout: true})
	default:
		return client.emit(model.EventAck, frame.ID, model.Ack{OK: false, Error: err.Error()})
	}
}
