package service

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"kusheet/internal/model"
)

// TimelineCache 缓存每个小组最近的消息，进入聊天页时优先读缓存。
// 缓存可能不完整（冷启动、过期、补偿失败），调用方需用 CacheComplete 判断后再信任。
type TimelineCache interface {
	Append(ctx context.Context, msg model.Message) error
	// Fill 用数据库中的最近消息回填，已有的同 seq 条目被替换。
	Fill(ctx context.Context, groupID string, msgs []model.Message) error
	Recent(ctx context.Context, groupID string, limit int) ([]model.Message, error)
	Invalidate(ctx context.Context, groupID string) error
}

// RedisTimelineCache 使用 Redis Sorted Set（score=seq）保存最近 size 条消息，每个 seq 只保留一条。
type RedisTimelineCache struct {
	client    *redis.Client
	keyPrefix string
	size      int
	ttl       time.Duration
}

func NewRedisTimelineCache(client *redis.Client, prefix string, size int, ttl time.Duration) *RedisTimelineCache {
	if size <= 0 {
		size = RecentLimit
	}
	return &RedisTimelineCache{
		client:    client,
		keyPrefix: prefix,
		size:      size,
		ttl:       ttl,
	}
}

// Append 写入一条消息并把集合裁剪到最近 size 条。
func (c *RedisTimelineCache) Append(ctx context.Context, msg model.Message) error {
	return c.write(ctx, msg.GroupID, []model.Message{msg})
}

func (c *RedisTimelineCache) Fill(ctx context.Context, groupID string, msgs []model.Message) error {
	return c.write(ctx, groupID, msgs)
}

func (c *RedisTimelineCache) write(ctx context.Context, groupID string, msgs []model.Message) error {
	if c.client == nil || len(msgs) == 0 {
		return nil
	}
	key := c.keyPrefix + groupID
	pipe := c.client.TxPipeline()
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		// 同一 seq 的旧条目（序列化结果可能不同）先删掉
		score := strconv.FormatUint(msg.Seq, 10)
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(msg.Seq), Member: data})
	}
	// 只保留分数最高的 size 条
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-c.size-1))
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate 删除小组缓存，下次读取时从数据库回填。
func (c *RedisTimelineCache) Invalidate(ctx context.Context, groupID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.keyPrefix+groupID).Err()
}

// Recent 返回最近 limit 条消息（seq 升序）。坏数据跳过。
func (c *RedisTimelineCache) Recent(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	if c.client == nil {
		return nil, nil
	}
	if limit <= 0 || limit > c.size {
		limit = c.size
	}
	vals, err := c.client.ZRange(ctx, c.keyPrefix+groupID, int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(vals))
	for _, v := range vals {
		var msg model.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			log.Printf("timeline cache: skip bad entry group=%s: %v", groupID, err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// CacheComplete 判断缓存结果能否代替数据库查询：seq 必须连续，
// 并且要么已有 limit 条，要么从小组第一条消息（seq=1）开始。
// seq 因写库失败出现空洞的小组会一直回退数据库，结果仍然正确。
func CacheComplete(msgs []model.Message, limit int) bool {
	if len(msgs) == 0 {
		return false
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq != msgs[i-1].Seq+1 {
			return false
		}
	}
	return len(msgs) >= limit || msgs[0].Seq == 1
}
