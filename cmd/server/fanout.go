package main

import (
	"context"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"kusheet/internal/config"
	"kusheet/internal/infra"
	"kusheet/internal/service"
)

// setupFanout 声明本实例的独占队列并启动消费者，返回发布端作为 Broadcaster。
// 发布与消费使用各自的 channel。
func setupFanout(ctx context.Context, conn *amqp.Connection, cfg config.RabbitMQConfig, hub *service.Hub) (service.Broadcaster, error) {
	consumeCh, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	queue, err := infra.PrepareFanoutTopology(consumeCh, cfg, uuid.NewString()[:8])
	if err != nil {
		return nil, err
	}
	if err := service.NewMessageConsumer(consumeCh, queue, hub).Start(ctx); err != nil {
		return nil, err
	}

	publishCh, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return service.NewMessageProducer(publishCh, cfg.Exchange, cfg.RoutingKey), nil
}
