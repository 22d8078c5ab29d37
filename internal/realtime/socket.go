package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kusheet/internal/model"
)

// 本地生命周期事件，与服务端事件共用 On 注册。
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventReconnect  = "reconnect"
)

var (
	// ErrSocketUnavailable socket 未连接或在等待确认时断开。
	ErrSocketUnavailable = errors.New("realtime: socket unavailable")
	// ErrForbidden 当前用户不是小组成员。
	ErrForbidden = errors.New("realtime: forbidden")
	// ErrSendFailed ack 与 REST 两条发送路径都失败。
	ErrSendFailed = errors.New("realtime: send failed")
	// ErrNotReady 视图尚未进入 Ready 或已卸载。
	ErrNotReady = errors.New("realtime: view not ready")
)

// Socket 是 ChatView 依赖的最小 socket 能力。
type Socket interface {
	Connected() bool
	Emit(event string, data any) error
	// EmitWithAck 发送带 ID 的帧并等待同 ID 的 ack，ctx 到期返回 ctx.Err()。
	EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error)
	// On 注册事件处理函数，返回的注销函数可重复调用。
	On(event string, fn Handler) (off func())
}

const (
	pingInterval    = 30 * time.Second
	socketWriteWait = 10 * time.Second
	minBackoff      = 500 * time.Millisecond
	maxBackoff      = 10 * time.Second
)

// SocketOptions 连接参数。
type SocketOptions struct {
	URL        string // ws(s)://host/ws
	Token      string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// WSSocket 是基于 gorilla/websocket 的 Socket 实现，断线后按指数退避自动重连。
type WSSocket struct {
	opts      SocketOptions
	listeners *listenerRegistry

	mu        sync.Mutex
	token     string
	conn      *websocket.Conn
	pending   map[string]chan json.RawMessage
	connected bool // 是否至少成功连接过一次
	started   bool
	closed    bool
	stop      chan struct{}

	writeMu sync.Mutex // gorilla 连接不支持并发写
}

func NewWSSocket(opts SocketOptions) *WSSocket {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = minBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = maxBackoff
	}
	return &WSSocket{
		opts:      opts,
		listeners: newListenerRegistry(),
		token:     opts.Token,
		pending:   make(map[string]chan json.RawMessage),
		stop:      make(chan struct{}),
	}
}

// Start 在后台开始连接，重复调用无效果。
func (s *WSSocket) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run()
}

// SetToken 更新鉴权 token；已连接时断开，由重连循环用新 token 重新握手。
func (s *WSSocket) SetToken(token string) {
	s.mu.Lock()
	changed := token != s.token
	s.token = token
	conn := s.conn
	s.mu.Unlock()
	if changed && conn != nil {
		_ = conn.Close()
	}
}

func (s *WSSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *WSSocket) On(event string, fn Handler) func() {
	return s.listeners.add(event, fn)
}

// ListenerCount 返回当前注册的处理函数数量。
func (s *WSSocket) ListenerCount() int {
	return s.listeners.count()
}

func (s *WSSocket) Emit(event string, data any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrSocketUnavailable
	}
	return s.write(conn, event, "", data)
}

func (s *WSSocket) EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil, ErrSocketUnavailable
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.write(conn, event, id, data); err != nil {
		s.dropPending(id)
		return nil, fmt.Errorf("%w: %v", ErrSocketUnavailable, err)
	}

	select {
	case raw, ok := <-ch:
		if !ok {
			return nil, ErrSocketUnavailable
		}
		return raw, nil
	case <-ctx.Done():
		s.dropPending(id)
		return nil, ctx.Err()
	}
}

// Close 停止重连并断开连接，可重复调用。
func (s *WSSocket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *WSSocket) dropPending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *WSSocket) write(conn *websocket.Conn, event, id string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(model.Frame{Event: event, ID: id, Data: raw})
}

func (s *WSSocket) dialURL() (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// run 是连接循环：拨号、读到断开、触发 disconnect、退避后重连，直到 Close。
func (s *WSSocket) run() {
	backoff := s.opts.MinBackoff
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		target, err := s.dialURL()
		if err != nil {
			log.Printf("socket 地址无效 %s: %v", s.opts.URL, err)
			return
		}
		conn, _, err := s.opts.Dialer.Dial(target, nil)
		if err != nil {
			log.Printf("socket 连接失败，%s 后重试: %v", backoff, err)
			if !s.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, s.opts.MaxBackoff)
			continue
		}
		backoff = s.opts.MinBackoff

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		first := !s.connected
		s.connected = true
		s.mu.Unlock()

		if first {
			s.listeners.dispatch(EventConnect, nil)
		} else {
			log.Printf("socket 已重连")
			s.listeners.dispatch(EventReconnect, nil)
		}

		s.serve(conn)

		s.mu.Lock()
		s.conn = nil
		pending := s.pending
		s.pending = make(map[string]chan json.RawMessage)
		s.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		s.listeners.dispatch(EventDisconnect, nil)
	}
}

// serve 读帧直到连接出错，期间定时发送 ping。
func (s *WSSocket) serve(conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.write(conn, model.EventPing, "", nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	defer conn.Close()
	for {
		var frame model.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("socket 读取失败: %v", err)
			}
			return
		}
		switch frame.Event {
		case model.EventAck:
			s.mu.Lock()
			ch, ok := s.pending[frame.ID]
			delete(s.pending, frame.ID)
			s.mu.Unlock()
			if ok {
				ch <- frame.Data
			}
		case model.EventPong:
		default:
			s.listeners.dispatch(frame.Event, frame.Data)
		}
	}
}

func (s *WSSocket) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stop:
		return false
	}
}
