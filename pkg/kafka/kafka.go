package kafka

import (
	"context"
	"fmt"

	"appraisal-fulfillment/pkg/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Producer = fx.Module("kafka.producer", fx.Provide(registerProducer))

// registerProducer returns a nil producer when KAFKA.ADDR is empty; the
// publisher treats that as "bus disabled".
func registerProducer(lc fx.Lifecycle, c *config.Config) (*kafka.Producer, error) {
	if c.Kafka.Addrs == "" {
		zap.L().Warn("KAFKA.ADDR not set, event publishing disabled")
		return nil, nil
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  c.Kafka.Addrs,
		"client.id":          c.AppName,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	// Drain the events channel so producer-level errors are visible.
	go func() {
		for e := range p.Events() {
			if kerr, ok := e.(kafka.Error); ok {
				zap.L().Warn("kafka producer error", zap.String("code", kerr.Code().String()), zap.Error(kerr))
			}
		}
	}()

	zap.L().Info("Kafka producer initialized", zap.String("brokers", c.Kafka.Addrs), zap.String("topic", c.Kafka.Topic))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			remaining := p.Flush(int(c.Kafka.FlushTimeout.Milliseconds()))
			if remaining > 0 {
				zap.L().Warn("kafka flush incomplete", zap.Int("remaining", remaining))
			}
			p.Close()
			return nil
		},
	})
	return p, nil
}
