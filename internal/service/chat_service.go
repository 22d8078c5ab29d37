package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"kusheet/internal/model"
	"kusheet/internal/repository"
)

// RecentLimit 是进入聊天页时返回的最近消息条数。
const RecentLimit = 100

var (
	// ErrNotMember 用户不是小组成员，对应 HTTP 403。
	ErrNotMember = errors.New("user is not a member of the group")
	// ErrEmptyContent 文本消息内容为空。
	ErrEmptyContent = errors.New("message content is empty")
	// ErrInvalidMessageID 客户端提供的消息 ID 不是 UUID。
	ErrInvalidMessageID = errors.New("message id must be a uuid")
	// ErrMessageIDConflict 消息 ID 已被其他用户或小组的消息占用。
	ErrMessageIDConflict = errors.New("message id already used")
)

// MessageStore 描述消息持久化需要实现的接口，便于测试替换。
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	ListRecent(ctx context.Context, groupID string, limit int) ([]model.Message, error)
	ListAfter(ctx context.Context, groupID string, afterSeq uint64, limit int) ([]model.Message, error)
}

// GroupStore 提供成员关系与频道的数据访问。
type GroupStore interface {
	FetchOrCreateChat(ctx context.Context, groupID string) (*model.Chat, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// seqReseeder 由支持校正的 seq 生成器实现。
type seqReseeder interface {
	Reseed(ctx context.Context, groupID string) error
}

// ChatService 封装小组聊天的读写逻辑，socket 与 REST 两条路径共用。
type ChatService struct {
	msgs    MessageStore
	groups  GroupStore
	seqGen  SeqGenerator  // 可选，例如 Redis；为 nil 时由仓储在事务内分配
	cache   TimelineCache // 可选
	retryer CacheRetryer  // 可选
	bus     Broadcaster   // 可选；MQ 或本地 Hub
	now     func() time.Time
}

func NewChatService(msgs MessageStore, groups GroupStore) *ChatService {
	return &ChatService{msgs: msgs, groups: groups, now: time.Now}
}

// WithSeqGenerator 可选注入自定义 seq 生成器。
func (s *ChatService) WithSeqGenerator(gen SeqGenerator) *ChatService {
	s.seqGen = gen
	return s
}

// WithTimelineCache 注入最近消息缓存及其失败补偿。
func (s *ChatService) WithTimelineCache(cache TimelineCache, retryer CacheRetryer) *ChatService {
	s.cache = cache
	s.retryer = retryer
	return s
}

// WithBroadcaster 注入消息分发通道。
func (s *ChatService) WithBroadcaster(bus Broadcaster) *ChatService {
	s.bus = bus
	return s
}

// CheckMember 非成员返回 ErrNotMember。
func (s *ChatService) CheckMember(ctx context.Context, userID, groupID string) error {
	ok, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// FetchChat 获取（必要时创建）小组频道以及最近 RecentLimit 条消息。
func (s *ChatService) FetchChat(ctx context.Context, userID, groupID string) (model.ChatSnapshot, error) {
	if err := s.CheckMember(ctx, userID, groupID); err != nil {
		return model.ChatSnapshot{}, err
	}
	chat, err := s.groups.FetchOrCreateChat(ctx, groupID)
	if err != nil {
		return model.ChatSnapshot{}, err
	}

	var recent []model.Message
	if s.cache != nil {
		cached, cacheErr := s.cache.Recent(ctx, groupID, RecentLimit)
		if cacheErr != nil {
			log.Printf("读取缓存失败 group=%s，回退 MySQL: %v", groupID, cacheErr)
		} else if CacheComplete(cached, RecentLimit) {
			recent = cached
		}
	}
	if recent == nil {
		recent, err = s.msgs.ListRecent(ctx, groupID, RecentLimit)
		if err != nil {
			return model.ChatSnapshot{}, err
		}
		// 缓存缺失或不完整时用数据库结果回填
		if s.cache != nil && len(recent) > 0 {
			if fillErr := s.cache.Fill(ctx, groupID, recent); fillErr != nil {
				log.Printf("回填缓存失败 group=%s: %v", groupID, fillErr)
			}
		}
	}
	if recent == nil {
		recent = []model.Message{}
	}
	return model.ChatSnapshot{Chat: *chat, Messages: recent}, nil
}

// Send 保存一条消息并分发给在线订阅者，返回服务端确认的消息。
func (s *ChatService) Send(ctx context.Context, sender model.User, groupID string, req model.SendRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	msgType := req.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if content == "" && msgType == model.MessageTypeText {
		return nil, ErrEmptyContent
	}
	// 客户端为每条待发消息生成一次 ID，ack 超时后走 REST 重发时服务端据此去重
	msgID := req.ID
	if msgID == "" {
		msgID = uuid.NewString()
	} else if _, err := uuid.Parse(msgID); err != nil {
		return nil, ErrInvalidMessageID
	}
	if err := s.CheckMember(ctx, sender.ID, groupID); err != nil {
		return nil, err
	}
	chat, err := s.groups.FetchOrCreateChat(ctx, groupID)
	if err != nil {
		return nil, err
	}

	// 重发的消息在分配 seq 之前就返回，避免计数出现空洞
	if req.ID != "" {
		if existing, findErr := s.msgs.FindByID(ctx, msgID); findErr == nil {
			return resend(existing, sender, groupID)
		}
	}

	msg := &model.Message{
		ID:          msgID,
		ChatID:      chat.ID,
		GroupID:     groupID,
		UserID:      sender.ID,
		Content:     content,
		MessageType: msgType,
		CreatedAt:   s.now().UTC(),
	}

	// 如果有外部 seq 生成器（这里是 Redis），优先获取 seq 后写库
	if s.seqGen != nil {
		seq, seqErr := s.seqGen.NextSeq(ctx, groupID)
		if seqErr != nil {
			log.Printf("seq 生成失败 group=%s，回退 MySQL: %v", groupID, seqErr)
		} else {
			msg.Seq = seq
		}
	}

	err = s.msgs.SaveMessage(ctx, msg)
	if errors.Is(err, repository.ErrDuplicateSeq) {
		// 外部计数落后于数据库，校正后由仓储在事务内重新分配
		log.Printf("seq 冲突 group=%s seq=%d，改由 MySQL 分配", groupID, msg.Seq)
		msg.Seq = 0
		err = s.msgs.SaveMessage(ctx, msg)
		if r, ok := s.seqGen.(seqReseeder); ok {
			if rerr := r.Reseed(ctx, groupID); rerr != nil {
				log.Printf("校正 seq 计数失败 group=%s: %v", groupID, rerr)
			}
		}
	}
	if err != nil {
		if !errors.Is(err, repository.ErrDuplicateMsgID) {
			return nil, err
		}
		log.Printf("重复消息 msg_id=%s，返回幂等结果", msg.ID)
		existing, findErr := s.msgs.FindByID(ctx, msg.ID)
		if findErr != nil {
			return nil, findErr
		}
		return resend(existing, sender, groupID)
	}
	msg.User = sender

	if s.cache != nil {
		if cacheErr := s.cache.Append(ctx, *msg); cacheErr != nil {
			log.Printf("写缓存失败 group=%s msg_id=%s: %v", groupID, msg.ID, cacheErr)
			if s.retryer != nil {
				s.retryer.Enqueue(*msg)
			}
		}
	}
	if s.bus != nil {
		if busErr := s.bus.Broadcast(ctx, *msg); busErr != nil {
			log.Printf("分发消息失败 group=%s msg_id=%s: %v", groupID, msg.ID, busErr)
		}
	}
	return msg, nil
}

// History 按 seq 游标拉取，limit 缺省为 50。
func (s *ChatService) History(ctx context.Context, userID, groupID string, afterSeq uint64, limit int) (model.HistoryPage, error) {
	if err := s.CheckMember(ctx, userID, groupID); err != nil {
		return model.HistoryPage{}, err
	}
	if limit <= 0 || limit > RecentLimit {
		limit = 50
	}
	// 多查一条用于判断是否还有更多
	msgs, err := s.msgs.ListAfter(ctx, groupID, afterSeq, limit+1)
	if err != nil {
		return model.HistoryPage{}, err
	}
	if len(msgs) == 0 {
		return model.HistoryPage{Messages: []model.Message{}, NextCursorSeq: afterSeq}, nil
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return model.HistoryPage{
		Messages:      msgs,
		NextCursorSeq: msgs[len(msgs)-1].Seq,
		HasMore:       hasMore,
	}, nil
}

// resend 返回同一 ID 已保存的消息；ID 属于别人或别的小组时报冲突。
func resend(existing *model.Message, sender model.User, groupID string) (*model.Message, error) {
	if existing.GroupID != groupID || existing.UserID != sender.ID {
		return nil, ErrMessageIDConflict
	}
	return existing, nil
}
