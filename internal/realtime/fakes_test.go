package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"kusheet/internal/model"
)

// fakeSocket 由测试手动驱动连接、断开与推送；ack 由 ackFn 决定。
type fakeSocket struct {
	listeners *listenerRegistry

	mu        sync.Mutex
	connected bool
	emitted   []model.Frame
	ackFn     func(ctx context.Context, event string, data json.RawMessage) (json.RawMessage, error)
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		listeners: newListenerRegistry(),
		ackFn: func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
			return mustJSON(model.Ack{OK: true}), nil
		},
	}
}

func (s *fakeSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSocket) record(event string, data any) json.RawMessage {
	raw := mustJSON(data)
	s.mu.Lock()
	s.emitted = append(s.emitted, model.Frame{Event: event, Data: raw})
	s.mu.Unlock()
	return raw
}

func (s *fakeSocket) Emit(event string, data any) error {
	if !s.Connected() {
		return ErrSocketUnavailable
	}
	s.record(event, data)
	return nil
}

func (s *fakeSocket) EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error) {
	if !s.Connected() {
		return nil, ErrSocketUnavailable
	}
	raw := s.record(event, data)
	s.mu.Lock()
	fn := s.ackFn
	s.mu.Unlock()
	return fn(ctx, event, raw)
}

func (s *fakeSocket) On(event string, fn Handler) func() {
	return s.listeners.add(event, fn)
}

func (s *fakeSocket) setAck(fn func(ctx context.Context, event string, data json.RawMessage) (json.RawMessage, error)) {
	s.mu.Lock()
	s.ackFn = fn
	s.mu.Unlock()
}

func (s *fakeSocket) connect(event string) {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.listeners.dispatch(event, nil)
}

func (s *fakeSocket) drop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.listeners.dispatch(EventDisconnect, nil)
}

func (s *fakeSocket) push(msg model.Message) {
	s.listeners.dispatch(model.EventMessage, mustJSON(msg))
}

func (s *fakeSocket) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.emitted {
		if f.Event == event {
			n++
		}
	}
	return n
}

type fakeStream struct {
	onMessage func(model.Message)
	closes    atomic.Int32
}

func (s *fakeStream) Close() { s.closes.Add(1) }

type fakeAPI struct {
	mu       sync.Mutex
	snapshot model.ChatSnapshot
	fetchErr error
	postFn   func(ctx context.Context, req model.SendRequest) (*model.Message, error)
	posts    int
	streams  []*fakeStream
}

func (a *fakeAPI) FetchChat(context.Context, string) (model.ChatSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot, a.fetchErr
}

func (a *fakeAPI) PostMessage(ctx context.Context, _ string, req model.SendRequest) (*model.Message, error) {
	a.mu.Lock()
	a.posts++
	fn := a.postFn
	a.mu.Unlock()
	if fn == nil {
		return nil, ErrSocketUnavailable
	}
	return fn(ctx, req)
}

func (a *fakeAPI) OpenStream(_ string, onMessage func(model.Message)) Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := &fakeStream{onMessage: onMessage}
	a.streams = append(a.streams, s)
	return s
}

func (a *fakeAPI) streamList() []*fakeStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*fakeStream(nil), a.streams...)
}

func (a *fakeAPI) postCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.posts
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func msg(id string, seq uint64, content string) model.Message {
	return model.Message{
		ID:      id,
		GroupID: "g1",
		Seq:     seq,
		User:    model.User{ID: "u1", FullName: "Alice"},
		Content: content,
	}
}
