package service

import (
	"context"
	"reflect"
	"sync"

	"kusheet/internal/model"
)

// Subscriber 接收某个小组的新消息，socket 连接和 SSE 流各自实现。
type Subscriber interface {
	Deliver(msg model.Message) error
}

// Broadcaster 把新建的消息分发给在线订阅者。
type Broadcaster interface {
	Broadcast(ctx context.Context, msg model.Message) error
}

// Hub 维护 groupID -> 订阅者 的映射，负责本实例内的推送。
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[Subscriber]struct{})}
}

// Subscribe 重复订阅同一小组是幂等的。
func (h *Hub) Subscribe(groupID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.groups[groupID]
	if !ok {
		subs = make(map[Subscriber]struct{})
		h.groups[groupID] = subs
	}
	subs[sub] = struct{}{}
}

func (h *Hub) Unsubscribe(groupID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.groups[groupID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.groups, groupID)
	}
}

// UnsubscribeAll 在连接断开时移除该订阅者在所有小组中的记录。
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for groupID, subs := range h.groups {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.groups, groupID)
		}
	}
}

// Count 返回小组当前订阅者数量。
func (h *Hub) Count(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}

// Broadcast 将消息推送给小组内所有订阅者，最佳努力发送，返回首个错误。
func (h *Hub) Broadcast(_ context.Context, msg model.Message) error {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.groups[msg.GroupID]))
	for sub := range h.groups[msg.GroupID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	var err error
	for _, sub := range subs {
		// 处理“带类型的 nil”场景（接口非 nil，但底层指针为 nil）
		if rv := reflect.ValueOf(sub); rv.Kind() == reflect.Ptr && rv.IsNil() {
			continue
		}
		if curErr := sub.Deliver(msg); curErr != nil && err == nil {
			err = curErr
		}
	}
	return err
}
