package realtime

import (
	"sort"

	"kusheet/internal/model"
)

// MaxMessages 是本地保留的最近消息上限。
const MaxMessages = 100

// MessageList 是按到达顺序追加、按 ID 去重、容量有限的消息列表。
// 不是并发安全的，由 ChatView 的锁保护。
type MessageList struct {
	items []model.Message
	ids   map[string]struct{}
	limit int
}

func NewMessageList(limit int) *MessageList {
	if limit <= 0 {
		limit = MaxMessages
	}
	return &MessageList{ids: make(map[string]struct{}), limit: limit}
}

// Add 追加一条消息；ID 已存在时跳过并返回 false。超出容量时从最旧的开始裁剪。
func (l *MessageList) Add(msg model.Message) bool {
	if msg.ID == "" {
		return false
	}
	if _, ok := l.ids[msg.ID]; ok {
		return false
	}
	l.items = append(l.items, msg)
	l.ids[msg.ID] = struct{}{}
	if over := len(l.items) - l.limit; over > 0 {
		for _, old := range l.items[:over] {
			delete(l.ids, old.ID)
		}
		l.items = append([]model.Message(nil), l.items[over:]...)
	}
	return true
}

// AddAll 依次追加，返回实际新增的条数。
func (l *MessageList) AddAll(msgs []model.Message) int {
	added := 0
	for _, m := range msgs {
		if l.Add(m) {
			added++
		}
	}
	return added
}

// Contains 判断 ID 是否已在列表中。
func (l *MessageList) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

func (l *MessageList) Len() int { return len(l.items) }

// Snapshot 返回到达顺序的副本。
func (l *MessageList) Snapshot() []model.Message {
	out := make([]model.Message, len(l.items))
	copy(out, l.items)
	return out
}

// OrderedBySeq 返回按服务端 seq 稳定排序的副本，seq 为 0（未知）的消息保持到达顺序并排在最后。
// 列表本身仍以到达顺序为准，渲染方按需选择。
func (l *MessageList) OrderedBySeq() []model.Message {
	out := l.Snapshot()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Seq, out[j].Seq
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a < b
	})
	return out
}
