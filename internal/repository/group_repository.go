package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"kusheet/internal/model"
)

// GroupRepository 提供小组、成员关系与聊天频道的数据访问。
type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// FetchOrCreateChat 返回小组的聊天频道，不存在时创建。并发创建时以唯一索引兜底后重新查询。
func (r *GroupRepository) FetchOrCreateChat(ctx context.Context, groupID string) (*model.Chat, error) {
	if groupID == "" {
		return nil, errors.New("groupID cannot be empty")
	}
	var chat model.Chat
	err := r.db.WithContext(ctx).
		Where(model.Chat{GroupID: groupID}).
		Attrs(model.Chat{ID: uuid.NewString()}).
		FirstOrCreate(&chat).Error
	if err != nil && isDuplicateKey(err) {
		err = r.db.WithContext(ctx).Where("group_id = ?", groupID).First(&chat).Error
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// IsMember 判断用户是否为小组成员。
func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	if groupID == "" || userID == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UserRepository 按访问令牌查询用户。
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByToken 未找到时返回 gorm.ErrRecordNotFound。
func (r *UserRepository) FindByToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user model.User
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
