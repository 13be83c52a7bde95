package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"govee-gateway/internal/decoder"
	"govee-gateway/internal/telemetry"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes readings to a Kafka topic, keyed by device address so
// every reading of one sensor lands on the same partition.
type Publisher struct {
	w     messageWriter
	topic string
	log   *slog.Logger
}

func NewPublisher(brokers []string, topic string, log *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: empty topic")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           5 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, topic, log), nil
}

func newPublisher(w messageWriter, topic string, log *slog.Logger) *Publisher {
	return &Publisher{w: w, topic: topic, log: log.With(slog.String("component", "kafka"))}
}

func (p *Publisher) Name() string { return "kafka" }

func (p *Publisher) Publish(ctx context.Context, r decoder.Reading) error {
	msg, err := buildMessage(r)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	p.log.Debug("kafka_write_ok", "topic", p.topic, "addr", r.Address)
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

func buildMessage(r decoder.Reading) (kafka.Message, error) {
	b, err := json.Marshal(telemetry.FromReading(r))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal reading: %w", err)
	}
	ts := r.SeenAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Key:   []byte(r.Address),
		Value: b,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "reading-id", Value: []byte(r.ID.String())},
		},
	}, nil
}
