package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

// Invalidator drops cached catalog entries.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...int64) error
}

// KafkaReader is the subset of *kafka.Reader the consumer needs.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

var errMalformed = errors.New("malformed order.created event")

// CacheInvalidator evicts the products of every created order, so browse
// responses stop showing stock that was just taken.
type CacheInvalidator struct {
	cache  Invalidator
	logger *zap.Logger
}

func NewCacheInvalidator(cache Invalidator, logger *zap.Logger) *CacheInvalidator {
	return &CacheInvalidator{cache: cache, logger: logger}
}

// Handle processes one order.created payload.
func (c *CacheInvalidator) Handle(ctx context.Context, body []byte) error {
	var event models.OrderCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.OrderID == 0 {
		return fmt.Errorf("%w: missing order_id", errMalformed)
	}

	seen := make(map[int64]bool, len(event.Items))
	ids := make([]int64, 0, len(event.Items))
	for _, item := range event.Items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	c.logger.Info("📦 Processing order.created",
		zap.Int64("order_id", event.OrderID),
		zap.String("event_id", event.EventID),
		zap.Int("products", len(ids)),
	)
	return c.cache.Invalidate(ctx, ids...)
}

// ProcessRabbit handles deliveries until the channel closes or ctx ends.
func (c *CacheInvalidator) ProcessRabbit(ctx context.Context, messages <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("⚠️ Delivery channel closed")
				return
			}
			c.logger.Debug("📥 Received order.created event", zap.String("message_id", msg.MessageId))

			err := c.Handle(messaging.ExtractAMQP(ctx, msg.Headers), msg.Body)
			switch {
			case err == nil:
				msg.Ack(false)
			case errors.Is(err, errMalformed):
				c.logger.Error("❌ Failed to parse event", zap.Error(err))
				msg.Nack(false, false) // Don't requeue bad messages
			default:
				c.logger.Warn("⚠️ Cache invalidation failed, requeued", zap.Error(err))
				msg.Nack(false, true)
			}
		}
	}
}

// ProcessKafka reads the topic until ctx ends. Offsets are committed after
// every message; a failed eviction only leaves entries to expire on TTL.
func (c *CacheInvalidator) ProcessKafka(ctx context.Context, reader KafkaReader) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("❌ Failed to fetch kafka message", zap.Error(err))
			}
			return
		}

		if err := c.Handle(messaging.ExtractKafka(ctx, msg.Headers), msg.Value); err != nil {
			c.logger.Warn("⚠️ Failed to handle order.created",
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
				zap.Error(err),
			)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("⚠️ Failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
