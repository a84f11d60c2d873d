package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"

	"github.com/xtrntr/gridledger/internal/models"
)

// Publisher streams ledger events to Kafka. Events of one book share a
// partition key so consumers see them in order.
type Publisher struct {
	producer sarama.SyncProducer
	prefix   string
}

// New connects a synchronous producer to brokers
func New(brokers []string, topicPrefix string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewPublisher(producer, topicPrefix), nil
}

func NewPublisher(producer sarama.SyncProducer, topicPrefix string) *Publisher {
	return &Publisher{producer: producer, prefix: topicPrefix}
}

func (p *Publisher) Name() string { return "kafka" }

// Topic maps an event type to its topic, e.g. gridledger.trade.executed
func (p *Publisher) Topic(t models.EventType) string {
	return p.prefix + "." + string(t)
}

func (p *Publisher) Append(ctx context.Context, events []models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.Sequence, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.Topic(ev.Type),
			Key:   sarama.StringEncoder(ev.PartitionKey()),
			Value: sarama.ByteEncoder(payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("sequence"), Value: []byte(strconv.FormatUint(ev.Sequence, 10))},
			},
		})
	}
	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(msgs), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
