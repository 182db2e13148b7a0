package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

func testEvent() *entity.PresenceEvent {
	return &entity.PresenceEvent{
		UserID:    "alice",
		OldStatus: entity.PresenceStatusOffline,
		NewStatus: entity.PresenceStatusOnline,
		NodeID:    "node-1",
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublishPresenceChange(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "presence.test" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "alice" {
			return errors.New("wrong key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var got entity.PresenceEvent
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.NewStatus != entity.PresenceStatusOnline || got.NodeID != "node-1" {
			return errors.New("unexpected payload " + string(value))
		}
		if len(msg.Headers) != 2 || string(msg.Headers[0].Value) != "presence_changed" {
			return errors.New("missing event_type header")
		}
		return nil
	})

	pub := NewKafkaEventPublisherWithProducer(producer, "presence.test")
	require.NoError(t, pub.PublishPresenceChange(context.Background(), testEvent()))
	require.NoError(t, pub.Close())
}

func TestPublishPresenceChangeFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaEventPublisherWithProducer(producer, "")
	err := pub.PublishPresenceChange(context.Background(), testEvent())
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestPublishPresenceChangeCancelled(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewKafkaEventPublisherWithProducer(producer, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pub.PublishPresenceChange(ctx, testEvent()), context.Canceled)
	require.NoError(t, pub.Close())
}
