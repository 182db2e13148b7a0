package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

const (
	TopicPresenceChanged = "relay.presence.changed"

	eventTypePresenceChanged = "presence_changed"
)

// KafkaEventPublisher 在线状态流，以用户为 key，同一用户的切换落在同一分区
type KafkaEventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ out.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(brokers []string, topic string) (*KafkaEventPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 10 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaEventPublisherWithProducer(producer, topic), nil
}

func NewKafkaEventPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaEventPublisher {
	if topic == "" {
		topic = TopicPresenceChanged
	}
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// PublishPresenceChange 同步生产者不接受 context，ctx 只用于提前返回
func (p *KafkaEventPublisher) PublishPresenceChange(ctx context.Context, event *entity.PresenceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal presence event failed: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventTypePresenceChanged)},
			{Key: []byte("timestamp"), Value: []byte(event.Timestamp.UTC().Format(time.RFC3339))},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish presence event failed: %w", err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}
