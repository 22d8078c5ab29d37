package testutil

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"kusheet/internal/handler"
	"kusheet/internal/model"
	"kusheet/internal/service"
)

// Users used by the test server fixtures.
var (
	Alice = model.User{ID: "u-alice", FullName: "Alice", Token: "tok-alice"}
	Bob   = model.User{ID: "u-bob", FullName: "Bob", Token: "tok-bob"}
	Eve   = model.User{ID: "u-eve", FullName: "Eve", Token: "tok-eve"}
)

// GroupID 是测试服务器预置的小组，Alice 与 Bob 是成员，Eve 不是。
const GroupID = "g-study"

// TestServer 是一个完整的内存版后端（REST + SSE + WebSocket + PromptPay）。
type TestServer struct {
	*httptest.Server
	Store *MemStore
	Hub   *service.Hub
	Chat  *service.ChatService
}

// NewTestServer 启动服务器并在测试结束时关闭。
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemStore()
	for _, u := range []model.User{Alice, Bob, Eve} {
		store.AddUser(u)
	}
	store.AddMember(GroupID, Alice.ID)
	store.AddMember(GroupID, Bob.ID)

	hub := service.NewHub()
	chatSvc := service.NewChatService(store, store).WithBroadcaster(hub)
	router := handler.NewRouter(handler.Deps{
		Users:     store,
		WebSocket: handler.NewWebSocketHandler(hub, chatSvc),
		Chat:      handler.NewChatHandler(hub, chatSvc),
		PromptPay: handler.NewPromptPayHandler(""),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &TestServer{Server: srv, Store: store, Hub: hub, Chat: chatSvc}
}

// WSURL 返回 /ws 的 ws:// 地址。
func (s *TestServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}
