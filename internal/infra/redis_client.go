package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"kusheet/internal/config"
)

// NewRedisClient 基于配置创建 Redis 客户端；Addr 为空时返回 nil，调用方回退到 MySQL 方案。
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  2 * time.Second,
	})
}

// PingRedis 用于启动阶段验证连接；若 client 为 nil 则直接返回 nil。
func PingRedis(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	_, err := client.Ping(ctx).Result()
	return err
}
