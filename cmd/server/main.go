package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kusheet/internal/config"
	"kusheet/internal/handler"
	"kusheet/internal/infra"
	"kusheet/internal/repository"
	"kusheet/internal/service"
)

const (
	seqKeyPrefix      = "kusheet:seq:"
	timelineKeyPrefix = "kusheet:timeline:"
	timelineTTL       = 7 * 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（可选）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}

	// 构建依赖
	db, err := repository.NewDB(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	msgRepo := repository.NewMessageRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	userRepo := repository.NewUserRepository(db)
	hub := service.NewHub()
	chatSvc := service.NewChatService(msgRepo, groupRepo)

	redisClient := infra.NewRedisClient(cfg.Redis)
	if err := infra.PingRedis(context.Background(), redisClient); err != nil {
		log.Printf("Redis 未就绪，seq 由 MySQL 分配，最近消息直接读库: %v", err)
		redisClient = nil
	}
	var retryer *service.AsyncCacheRetryer
	if redisClient != nil {
		seqGen := service.NewRedisSeqGenerator(redisClient, seqKeyPrefix).
			WithSeeder(repository.NewSeqRepository(db))
		cache := service.NewRedisTimelineCache(redisClient, timelineKeyPrefix, service.RecentLimit, timelineTTL)
		retryer = service.NewAsyncCacheRetryer(cache, service.CacheRetryOptions{})
		chatSvc.WithSeqGenerator(seqGen).WithTimelineCache(cache, retryer)
	}

	// 多实例时经 RabbitMQ fanout 分发，未配置或连接失败时只推给本实例
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	var bus service.Broadcaster = hub
	mqConn, err := infra.NewRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		log.Printf("RabbitMQ 未就绪，仅本实例内分发: %v", err)
	} else {
		defer mqConn.Close()
		if b, err := setupFanout(consumerCtx, mqConn, cfg.RabbitMQ, hub); err != nil {
			log.Printf("初始化 RabbitMQ 拓扑失败，仅本实例内分发: %v", err)
		} else {
			bus = b
		}
	}
	chatSvc.WithBroadcaster(bus)

	router := handler.NewRouter(handler.Deps{
		Users:     userRepo,
		WebSocket: handler.NewWebSocketHandler(hub, chatSvc),
		Chat:      handler.NewChatHandler(hub, chatSvc),
		PromptPay: handler.NewPromptPayHandler(cfg.QRServiceURL),
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Printf("Gin 服务启动（REST/SSE/WebSocket），监听 %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 监听系统信号，优雅退出
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}
	stopConsumer()
	if retryer != nil {
		retryer.Stop()
	}
	log.Println("服务已关闭")
}

