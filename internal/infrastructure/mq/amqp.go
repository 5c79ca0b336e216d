package mq

import (
	"context"
	"fmt"

	"chatledger/internal/config"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPClient 持有到 RabbitMQ 的连接和一个发布用的 channel
type AMQPClient struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
}

// NewAMQPClient 建立连接并声明 direct exchange、持久化队列及绑定
func NewAMQPClient(cfg *config.AMQPConfig) (*AMQPClient, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 AMQP 失败: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("打开 AMQP channel 失败: %w", err)
	}

	c := &AMQPClient{conn: conn, channel: channel, exchange: cfg.Exchange, queue: cfg.Queue}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *AMQPClient) setup() error {
	if err := c.channel.ExchangeDeclare(c.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明 exchange 失败: %w", err)
	}
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}
	if err := c.channel.QueueBind(c.queue, c.queue, c.exchange, false, nil); err != nil {
		return fmt.Errorf("绑定队列失败: %w", err)
	}
	return nil
}

// Publish 以队列名为 routing key 发布一条持久化的 JSON 消息
func (c *AMQPClient) Publish(ctx context.Context, body []byte) error {
	return c.channel.PublishWithContext(ctx, c.exchange, c.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	})
}

func (c *AMQPClient) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
