package infra

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"kusheet/internal/config"
)

// NewRabbitMQ 建立连接并返回 Connection。
func NewRabbitMQ(cfg config.RabbitMQConfig) (*amqp.Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is empty")
	}
	return amqp.Dial(cfg.URL)
}

// PrepareFanoutTopology 声明 fanout 交换机，并为当前实例声明独占、自动删除的队列后绑定（幂等）。
// 每个服务实例都拿到一份完整的消息流，用于把新消息推给本实例上的 socket 房间和 SSE 订阅者。
// 返回实际的队列名。
func PrepareFanoutTopology(ch *amqp.Channel, cfg config.RabbitMQConfig, instanceID string) (string, error) {
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"fanout",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		cfg.Queue+"."+instanceID,
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return "", err
	}

	if err := ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	); err != nil {
		return "", err
	}

	return q.Name, nil
}
