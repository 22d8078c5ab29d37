package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"kusheet/internal/model"
)

// MessageConsumer 消费 fanout 队列中的消息并推给本实例的 Hub。
type MessageConsumer struct {
	ch    *amqp.Channel
	queue string
	local Broadcaster
}

func NewMessageConsumer(ch *amqp.Channel, queue string, local Broadcaster) *MessageConsumer {
	return &MessageConsumer{
		ch:    ch,
		queue: queue,
		local: local,
	}
}

// Start 启动消费循环（非阻塞），ctx 取消后退出。
func (c *MessageConsumer) Start(ctx context.Context) error {
	deliveries, err := c.ch.Consume(
		c.queue,
		"",
		false, // autoAck
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.handleDelivery(ctx, d)
			}
		}
	}()
	return nil
}

// acker 抽出 amqp.Delivery 的确认能力，便于测试。
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *MessageConsumer) handleDelivery(parentCtx context.Context, d amqp.Delivery) {
	c.handle(parentCtx, d.Body, d)
}

func (c *MessageConsumer) handle(parentCtx context.Context, body []byte, ack acker) {
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Printf("解析 MQ 消息失败: %v", err)
		_ = ack.Nack(false, false) // 丢弃坏消息
		return
	}
	if err := msg.Validate(); err != nil {
		log.Printf("MQ 消息不完整，丢弃: %v", err)
		_ = ack.Nack(false, false)
		return
	}

	ctx, cancel := context.WithTimeout(parentCtx, 5*time.Second)
	defer cancel()

	// 推送是最佳努力的，个别连接写失败不影响确认
	if err := c.local.Broadcast(ctx, msg); err != nil {
		log.Printf("本地推送部分失败 msg_id=%s: %v", msg.ID, err)
	}
	_ = ack.Ack(false)
}
