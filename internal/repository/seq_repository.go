package repository

import (
	"context"
	"errors"

	"kusheet/internal/model"

	"gorm.io/gorm"
)

// SeqRepository 读取 MySQL 中小组已用到的最大 seq，用于初始化或校正 Redis 计数。
type SeqRepository struct {
	db *gorm.DB
}

func NewSeqRepository(db *gorm.DB) *SeqRepository {
	return &SeqRepository{db: db}
}

// MaxSeq 返回小组内最大 seq，没有消息时为 0。
func (r *SeqRepository) MaxSeq(ctx context.Context, groupID string) (uint64, error) {
	if groupID == "" {
		return 0, errors.New("groupID required")
	}
	var maxSeq uint64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("COALESCE(MAX(seq),0)").
		Where("group_id = ?", groupID).
		Scan(&maxSeq).Error
	return maxSeq, err
}
