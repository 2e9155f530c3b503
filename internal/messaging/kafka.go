package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Kafka publishes to any topic through one writer. Messages with the same key
// land on the same partition.
type Kafka struct {
	brokers []string
	writer  *kafka.Writer
	logger  *zap.Logger
}

func NewKafka(brokers []string, logger *zap.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	logger.Info("✅ Kafka writer ready", zap.Strings("brokers", brokers))
	return &Kafka{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger: logger,
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, topic string, msg Message) error {
	headers := InjectKafka(ctx)
	if msg.ID != "" {
		headers = append(headers, kafka.Header{Key: "message_id", Value: []byte(msg.ID)})
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	k.logger.Debug("📤 Message published", zap.String("topic", topic), zap.String("message_id", msg.ID))
	return nil
}

func (k *Kafka) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
