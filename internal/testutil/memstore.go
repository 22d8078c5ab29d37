// Package testutil 提供测试用的内存存储和可直接启动的测试服务器。
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"kusheet/internal/model"
	"kusheet/internal/repository"
)

// MemStore 同时实现消息、小组和令牌三类存储，行为与 MySQL 仓储一致（seq 自增、重复 ID 报错）。
type MemStore struct {
	mu      sync.Mutex
	users   map[string]model.User // token -> user
	members map[string]bool       // groupID/userID
	chats   map[string]model.Chat // groupID -> chat
	msgs    map[string]model.Message
	byGroup map[string][]string // groupID -> message ids (按 seq)
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:   make(map[string]model.User),
		members: make(map[string]bool),
		chats:   make(map[string]model.Chat),
		msgs:    make(map[string]model.Message),
		byGroup: make(map[string][]string),
	}
}

// AddUser 注册一个用户及其令牌。
func (s *MemStore) AddUser(user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Token] = user
}

// AddMember 把用户加入小组。
func (s *MemStore) AddMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID+"/"+userID] = true
}

// RemoveMember 把用户移出小组。
func (s *MemStore) RemoveMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, groupID+"/"+userID)
}

func (s *MemStore) FindByToken(_ context.Context, token string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[token]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

func (s *MemStore) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[groupID+"/"+userID], nil
}

func (s *MemStore) FetchOrCreateChat(_ context.Context, groupID string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[groupID]
	if !ok {
		chat = model.Chat{ID: uuid.NewString(), GroupID: groupID}
		s.chats[groupID] = chat
	}
	return &chat, nil
}

func (s *MemStore) SaveMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[msg.ID]; ok {
		return repository.ErrDuplicateMsgID
	}
	if msg.Seq == 0 {
		msg.Seq = uint64(len(s.byGroup[msg.GroupID]) + 1)
	}
	stored := *msg
	stored.User = s.userByID(msg.UserID)
	s.msgs[msg.ID] = stored
	ids := append(s.byGroup[msg.GroupID], msg.ID)
	sort.SliceStable(ids, func(i, j int) bool { return s.msgs[ids[i]].Seq < s.msgs[ids[j]].Seq })
	s.byGroup[msg.GroupID] = ids
	return nil
}

func (s *MemStore) userByID(id string) model.User {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return model.User{ID: id}
}

func (s *MemStore) FindByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &msg, nil
}

func (s *MemStore) ListRecent(_ context.Context, groupID string, limit int) ([]model.Message, error) {
	if groupID == "" {
		return nil, errors.New("groupID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byGroup[groupID]
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.msgs[id])
	}
	return out, nil
}

func (s *MemStore) ListAfter(_ context.Context, groupID string, afterSeq uint64, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, id := range s.byGroup[groupID] {
		msg := s.msgs[id]
		if msg.Seq > afterSeq && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

// MessageCount 返回小组内已保存的消息条数。
func (s *MemStore) MessageCount(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byGroup[groupID])
}
