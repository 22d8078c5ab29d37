package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"kusheet/internal/model"
)

// MessageProducer 把已落库的消息发布到 fanout 交换机，由各实例的消费者推给本地订阅者。
type MessageProducer struct {
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewMessageProducer(ch *amqp.Channel, exchange, routingKey string) *MessageProducer {
	return &MessageProducer{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

// Broadcast 实现 Broadcaster。
func (p *MessageProducer) Broadcast(ctx context.Context, msg model.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
			MessageId:   msg.ID,
		})
}
