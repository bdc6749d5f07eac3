package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appraisal-fulfillment/pkg/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
)

var Module = fx.Module("publisher.service", fx.Provide(NewService))

var ErrDisabled = errors.New("publisher: no broker configured")

// Producer is the part of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// FulfillmentMessage announces a completed run on the bus.
type FulfillmentMessage struct {
	SessionID     string            `json:"session_id"`
	EventID       string            `json:"event_id,omitempty"`
	Kind          string            `json:"kind"`
	Mode          string            `json:"mode"`
	CustomerEmail string            `json:"customer_email"`
	ContentID     int64             `json:"content_id,omitempty"`
	EditURL       string            `json:"edit_url,omitempty"`
	Media         map[string]string `json:"media,omitempty"`
	BackupURL     string            `json:"backup_url,omitempty"`
	ItemCount     int               `json:"item_count,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type Publisher struct {
	producer Producer
	topic    string
}

type Params struct {
	fx.In
	Config   *config.Config
	Producer *kafka.Producer `optional:"true"`
}

func NewService(p Params) *Publisher {
	if p.Producer == nil {
		return NewPublisher(nil, p.Config.Kafka.Topic)
	}
	return NewPublisher(p.Producer, p.Config.Kafka.Topic)
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish sends msg keyed by session id and waits for the delivery report.
func (p *Publisher) Publish(ctx context.Context, msg FulfillmentMessage) error {
	if p.producer == nil {
		return ErrDisabled
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal fulfillment message: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.SessionID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
			{Key: "mode", Value: []byte(msg.Mode)},
		},
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for delivery report: %w", ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", p.topic, m.TopicPartition.Error)
		}
		return nil
	}
}
