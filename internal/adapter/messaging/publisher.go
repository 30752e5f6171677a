package messaging

import (
	"context"
	"fmt"

	"github.com/rl1809/stock-billing/internal/port"
)

const (
	BackendNone     = "none"
	BackendKafka    = "kafka"
	BackendRabbitMQ = "rabbitmq"
)

type Config struct {
	Backend      string
	KafkaBrokers string
	RabbitMQURL  string
}

// NewPublisher builds the event publisher for the configured backend. The
// none backend, and an empty one, discard every event.
func NewPublisher(cfg Config) (port.EventPublisher, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return NoopPublisher{}, nil
	case BackendKafka:
		brokers := ParseBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, fmt.Errorf("kafka backend needs at least one broker")
		}
		return NewKafkaPublisher(brokers), nil
	case BackendRabbitMQ:
		if cfg.RabbitMQURL == "" {
			return nil, fmt.Errorf("rabbitmq backend needs a URL")
		}
		return NewRabbitMQPublisher(cfg.RabbitMQURL)
	}
	return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, topic, key string, payload any) error { return nil }

func (NoopPublisher) Close() error { return nil }
