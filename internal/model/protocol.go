package model

import "encoding/json"

// Socket 事件名。
const (
	EventJoin    = "chat:join"
	EventLeave   = "chat:leave"
	EventSend    = "chat:send"
	EventMessage = "chat:message"
	EventAck     = "ack"
	EventPing    = "ping"
	EventPong    = "pong"
	EventError   = "error"
)

// Frame 是 socket 上双向传输的统一帧。
// 需要确认的请求携带 ID，服务端用 Event=ack 和相同 ID 回复。
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest 加入/离开小组房间。
type JoinRequest struct {
	GroupID string `json:"groupId"`
}

// SendRequest 既是 socket chat:send 的负载，也是 REST 发送接口的请求体。
// ID 可选，由客户端生成的 UUID；同一 ID 重复提交返回已保存的消息。
type SendRequest struct {
	ID          string `json:"id,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

// Ack 服务端确认。Timeout=true 表示服务端处理超时，客户端应改走 REST。
type Ack struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Data    *Message `json:"data,omitempty"`
	Timeout bool     `json:"timeout,omitempty"`
}

// DataEnvelope 是 REST 接口统一的成功响应体。
type DataEnvelope[T any] struct {
	Data T `json:"data"`
}

// ErrorBody 是 REST 接口统一的错误响应体。
type ErrorBody struct {
	Error string `json:"error"`
}

// HistoryPage 游标拉取结果。
type HistoryPage struct {
	Messages      []Message `json:"messages"`
	NextCursorSeq uint64    `json:"nextCursorSeq"`
	HasMore       bool      `json:"hasMore"`
}
