package repository

import (
	"context"
	"errors"
	"strings"

	"kusheet/internal/model"

	"github.com/go-sql-driver/mysql"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository 负责群聊消息的持久化。
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// DB 暴露底层 *gorm.DB，便于测试/复用。
func (r *MessageRepository) DB() *gorm.DB {
	return r.db
}

// SaveMessage 在事务中写入消息。msg.Seq 为 0 时在事务内取小组最大 seq+1。
func (r *MessageRepository) SaveMessage(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if msg.Seq == 0 {
			var maxSeq uint64
			if err := tx.Raw(
				"SELECT COALESCE(MAX(seq), 0) FROM group_chat_message WHERE group_id = ? FOR UPDATE",
				msg.GroupID,
			).Scan(&maxSeq).Error; err != nil {
				return err
			}
			msg.Seq = maxSeq + 1
		}

		// 发送者信息只读，不随消息写回 users 表
		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			return duplicateKeyError(err)
		}
		return nil
	})
}

// FindByID 根据消息 ID 查询，用于幂等返回已有消息。未找到时返回 gorm.ErrRecordNotFound。
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("id = ?", id).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListRecent 返回小组最近 limit 条消息，按 seq 升序。
func (r *MessageRepository) ListRecent(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	if groupID == "" {
		return nil, errors.New("groupID cannot be empty")
	}
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("group_id = ?", groupID).
		Order("seq DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListAfter 按小组内 seq 拉取 afterSeq 之后的消息，返回升序列表。
func (r *MessageRepository) ListAfter(ctx context.Context, groupID string, afterSeq uint64, limit int) ([]model.Message, error) {
	if groupID == "" {
		return nil, errors.New("groupID cannot be empty")
	}
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("group_id = ? AND seq > ?", groupID, afterSeq).
		Order("seq ASC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

var (
	// ErrDuplicateMsgID 用于幂等冲突识别。
	ErrDuplicateMsgID = errors.New("duplicate message id")
	// ErrDuplicateSeq 外部分配的 seq 与已有消息冲突（例如 Redis 计数被重置）。
	ErrDuplicateSeq = errors.New("duplicate message seq")
)

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// duplicateKeyError 区分主键冲突与 (group_id, seq) 唯一索引冲突，其他错误原样返回。
func duplicateKeyError(err error) error {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != 1062 {
		return err
	}
	if strings.Contains(mysqlErr.Message, "idx_group_seq") {
		return ErrDuplicateSeq
	}
	return ErrDuplicateMsgID
}
