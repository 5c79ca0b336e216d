package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chatledger/internal/infrastructure/mq"

	"github.com/IBM/sarama"
)

// Message 推送给单个成员的通知
type Message struct {
	MemberID string            `json:"member_id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Dispatcher 通知投递方，推送服务消费下游消息后完成真正的推送
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// ============================================================================
// Kafka
// ============================================================================

type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic}
}

// Dispatch 以成员 ID 为 key，同一成员的通知落在同一分区内有序
func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return mq.SendMessage(d.producer, d.topic, msg.MemberID, payload)
}

// ============================================================================
// AMQP
// ============================================================================

// Publisher 由 mq.AMQPClient 实现
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

type AMQPDispatcher struct {
	publisher Publisher
}

func NewAMQPDispatcher(publisher Publisher) *AMQPDispatcher {
	return &AMQPDispatcher{publisher: publisher}
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return d.publisher.Publish(ctx, payload)
}

// ============================================================================
// Log（本地开发，不接消息队列）
// ============================================================================

type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, msg Message) error {
	d.logger.InfoContext(ctx, "通知",
		"member_id", msg.MemberID,
		"title", msg.Title,
		"body", msg.Body,
		"metadata", msg.Metadata)
	return nil
}
