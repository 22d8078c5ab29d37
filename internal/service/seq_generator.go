package service

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// SeqGenerator 定义小组内 seq 生成接口，Redis 与 MySQL 方案均实现它。
type SeqGenerator interface {
	NextSeq(ctx context.Context, groupID string) (uint64, error)
}

// SeqSeeder 提供小组当前最大 seq，Redis 计数不存在时用它初始化。
type SeqSeeder interface {
	MaxSeq(ctx context.Context, groupID string) (uint64, error)
}

// RedisSeqGenerator 使用 Redis INCR 生成 per-group 序号。
type RedisSeqGenerator struct {
	client *redis.Client
	prefix string
	seeder SeqSeeder // 可选
}

func NewRedisSeqGenerator(client *redis.Client, prefix string) *RedisSeqGenerator {
	return &RedisSeqGenerator{client: client, prefix: prefix}
}

// WithSeeder 在 key 缺失（首次使用或 Redis 数据丢失）时先用 MySQL 最大 seq 初始化计数。
func (g *RedisSeqGenerator) WithSeeder(seeder SeqSeeder) *RedisSeqGenerator {
	g.seeder = seeder
	return g
}

// Reseed 把计数强制校正为 MySQL 中的最大 seq，用于 seq 冲突之后。
func (g *RedisSeqGenerator) Reseed(ctx context.Context, groupID string) error {
	if g.client == nil || g.seeder == nil {
		return errors.New("reseed requires redis client and seeder")
	}
	maxSeq, err := g.seeder.MaxSeq(ctx, groupID)
	if err != nil {
		return err
	}
	return g.client.Set(ctx, g.prefix+groupID, maxSeq, 0).Err()
}

func (g *RedisSeqGenerator) NextSeq(ctx context.Context, groupID string) (uint64, error) {
	if g.client == nil {
		return 0, errors.New("redis client is nil")
	}
	key := g.prefix + groupID
	if g.seeder != nil {
		n, err := g.client.Exists(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			maxSeq, err := g.seeder.MaxSeq(ctx, groupID)
			if err != nil {
				return 0, err
			}
			// 并发初始化时只有一个 SETNX 生效
			if err := g.client.SetNX(ctx, key, maxSeq, 0).Err(); err != nil {
				return 0, err
			}
		}
	}
	val, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return uint64(val), nil
}
