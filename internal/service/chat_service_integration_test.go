package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"kusheet/internal/config"
	"kusheet/internal/infra"
	"kusheet/internal/model"
	"kusheet/internal/repository"
)

func TestSendWithRedisSeqAndTimelineIntegration(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	// 初始化 MySQL
	db, err := repository.NewDB(cfg.MySQLDSN)
	if err != nil {
		t.Skipf("skip: MySQL not available: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate tables: %v", err)
	}

	// 初始化 Redis
	rdb := infra.NewRedisClient(cfg.Redis)
	if rdb == nil {
		t.Skip("skip: Redis not configured")
	}
	if err := infra.PingRedis(context.Background(), rdb); err != nil {
		t.Skipf("skip: Redis not reachable: %v", err)
	}

	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	user := model.User{ID: "it-user-" + suffix, FullName: "Integration", Token: "it-token-" + suffix}
	groupID := "it-group-" + suffix
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := db.Create(&model.Group{ID: groupID, Name: "integration"}).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := db.Create(&model.GroupMember{GroupID: groupID, UserID: user.ID, JoinedAt: time.Now()}).Error; err != nil {
		t.Fatalf("create member: %v", err)
	}

	seqPrefix := "test:kusheet:seq:"
	cachePrefix := "test:kusheet:timeline:"
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), seqPrefix+groupID, cachePrefix+groupID).Err()
	})

	seqRepo := repository.NewSeqRepository(db)
	seqGen := NewRedisSeqGenerator(rdb, seqPrefix).WithSeeder(seqRepo)
	cache := NewRedisTimelineCache(rdb, cachePrefix, RecentLimit, time.Hour)
	hub := NewHub()
	svc := NewChatService(repository.NewMessageRepository(db), repository.NewGroupRepository(db)).
		WithSeqGenerator(seqGen).
		WithTimelineCache(cache, nil).
		WithBroadcaster(hub)

	first, err := svc.Send(ctx, user, groupID, model.SendRequest{Content: "hello int"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	second, err := svc.Send(ctx, user, groupID, model.SendRequest{Content: "again"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("unexpected seqs %d, %d", first.Seq, second.Seq)
	}

	// 验证落库
	var saved model.Message
	if err := db.WithContext(ctx).First(&saved, "id = ?", second.ID).Error; err != nil {
		t.Fatalf("query saved message: %v", err)
	}
	if saved.Seq != second.Seq || saved.GroupID != groupID || saved.UserID != user.ID {
		t.Fatalf("saved message mismatch: %+v", saved)
	}

	// 验证缓存
	recent, err := cache.Recent(ctx, groupID, RecentLimit)
	if err != nil || len(recent) != 2 || recent[1].ID != second.ID {
		t.Fatalf("unexpected cache contents: %+v %v", recent, err)
	}

	// Redis 计数丢失后从 MySQL 最大 seq 继续
	if err := rdb.Del(ctx, seqPrefix+groupID).Err(); err != nil {
		t.Fatalf("del seq key: %v", err)
	}
	third, err := svc.Send(ctx, user, groupID, model.SendRequest{Content: "after reset"})
	if err != nil {
		t.Fatalf("Send after reset: %v", err)
	}
	if third.Seq != 3 {
		t.Fatalf("expected seq 3 after reseed, got %d", third.Seq)
	}

	snap, err := svc.FetchChat(ctx, user.ID, groupID)
	if err != nil {
		t.Fatalf("FetchChat: %v", err)
	}
	if len(snap.Messages) != 3 || snap.Chat.GroupID != groupID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// 缓存过期后只追加了一条，读取时应回退 MySQL 并回填
	if err := rdb.Del(ctx, cachePrefix+groupID).Err(); err != nil {
		t.Fatalf("del cache key: %v", err)
	}
	if _, err := svc.Send(ctx, user, groupID, model.SendRequest{Content: "cold cache"}); err != nil {
		t.Fatalf("Send after cache loss: %v", err)
	}
	snap, err = svc.FetchChat(ctx, user.ID, groupID)
	if err != nil {
		t.Fatalf("FetchChat: %v", err)
	}
	if len(snap.Messages) != 4 {
		t.Fatalf("expected 4 messages after cache loss, got %d", len(snap.Messages))
	}
	recent, err = cache.Recent(ctx, groupID, RecentLimit)
	if err != nil || len(recent) != 4 || recent[0].Seq != 1 {
		t.Fatalf("cache not backfilled: %+v %v", recent, err)
	}
}
