package realtime

import (
	"encoding/json"
	"sync"
)

// Handler 处理一个 socket 事件。处理函数在 socket 读协程上执行，不能阻塞等待同一 socket 的 ack。
type Handler func(data json.RawMessage)

// listenerRegistry 记录每个事件的处理函数，注册返回一次性的注销函数。
type listenerRegistry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]Handler
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{handlers: make(map[string]map[uint64]Handler)}
}

func (r *listenerRegistry) add(event string, fn Handler) func() {
	r.mu.Lock()
	r.next++
	id := r.next
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[uint64]Handler)
	}
	r.handlers[event][id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[event], id)
			if len(r.handlers[event]) == 0 {
				delete(r.handlers, event)
			}
		})
	}
}

func (r *listenerRegistry) dispatch(event string, data json.RawMessage) {
	r.mu.RLock()
	fns := make([]Handler, 0, len(r.handlers[event]))
	for _, fn := range r.handlers[event] {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(data)
	}
}

// count 返回当前注册的处理函数总数，用于检查监听泄漏。
func (r *listenerRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, fns := range r.handlers {
		n += len(fns)
	}
	return n
}
