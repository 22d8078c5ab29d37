package model

import (
	"errors"
	"fmt"
	"time"
)

// MessageType 消息类型，目前只有文本。
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// User 是消息发送者。Token 仅服务端使用，不下发给客户端。
type User struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	FullName string `gorm:"size:128" json:"fullName"`
	Picture  string `gorm:"size:512" json:"picture,omitempty"`
	Token    string `gorm:"uniqueIndex;size:128" json:"-"`
}

func (User) TableName() string { return "users" }

// Group 学习小组。
type Group struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:128" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Group) TableName() string { return "study_group" }

// GroupMember 小组成员关系，聊天的读写权限以此为准。
type GroupMember struct {
	GroupID  string    `gorm:"primaryKey;size:64" json:"groupId"`
	UserID   string    `gorm:"primaryKey;size:64" json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (GroupMember) TableName() string { return "study_group_member" }

// Chat 每个小组至多一个聊天频道，首次访问时创建。
type Chat struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	GroupID   string    `gorm:"uniqueIndex;size:64" json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Chat) TableName() string { return "group_chat" }

// Message 是一条群聊消息。ID 由服务端分配且全局唯一；Seq 为小组内单调递增序号。
type Message struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	ChatID      string    `gorm:"size:64" json:"chatId,omitempty"`
	GroupID     string    `gorm:"size:64;uniqueIndex:idx_group_seq" json:"groupId"`
	Seq         uint64    `gorm:"uniqueIndex:idx_group_seq" json:"seq,omitempty"`
	UserID      string    `gorm:"size:64;index" json:"-"`
	User        User      `gorm:"foreignKey:UserID" json:"user"`
	Content     string    `gorm:"type:text" json:"content"`
	MessageType string    `gorm:"size:16" json:"messageType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Message) TableName() string { return "group_chat_message" }

// ErrInvalidMessage 表示边界处反序列化得到的消息缺少必需字段。
var ErrInvalidMessage = errors.New("invalid message")

// Validate 在系统边界（REST/socket/SSE 解码）校验必需字段。
func (m *Message) Validate() error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.User.ID == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if m.Content == "" && (m.MessageType == "" || m.MessageType == MessageTypeText) {
		return fmt.Errorf("%w: empty text content", ErrInvalidMessage)
	}
	return nil
}

// ChatSnapshot 是进入聊天页面时拉取的频道信息和最近消息。
type ChatSnapshot struct {
	Chat     Chat      `json:"chat"`
	Messages []Message `json:"messages"`
}
