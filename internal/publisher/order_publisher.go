package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

const OrderCreatedTopic = "order.created"

// Broker is implemented by messaging.RabbitMQ and messaging.Kafka.
type Broker interface {
	Publish(ctx context.Context, topic string, msg messaging.Message) error
}

type queueDeclarer interface {
	DeclareQueue(name string) error
}

type OrderPublisher struct {
	broker Broker
	topic  string
}

// NewOrderPublisher declares the destination queue on brokers that need it.
func NewOrderPublisher(broker Broker, topic string) (*OrderPublisher, error) {
	if topic == "" {
		topic = OrderCreatedTopic
	}
	if d, ok := broker.(queueDeclarer); ok {
		if err := d.DeclareQueue(topic); err != nil {
			return nil, err
		}
	}

	return &OrderPublisher{broker: broker, topic: topic}, nil
}

// PublishOrderCreated publishes an order.created event keyed by order id.
func (p *OrderPublisher) PublishOrderCreated(ctx context.Context, event models.OrderCreatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.broker.Publish(ctx, p.topic, messaging.Message{
		Key:  strconv.FormatInt(event.OrderID, 10),
		ID:   event.EventID,
		Body: data,
	})
}
