package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
}

func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
}

func NewProducer(w MessageWriter) *Producer {
	return &Producer{writer: w}
}

// Encode turns every event into one message keyed by its resource so the
// events of a resource stay in order on one partition.
func Encode(events []common.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.ResourceID),
			Value: data,
			Time:  e.Timestamp,
		})
	}
	return msgs, nil
}

// Send publishes events in chunks of chunkSize messages.
func (p *Producer) Send(ctx context.Context, events []common.Event, chunkSize int) error {
	msgs, err := Encode(events)
	if err != nil {
		return err
	}
	if chunkSize <= 0 {
		chunkSize = len(msgs)
	}
	for start := 0; start < len(msgs); start += chunkSize {
		end := min(start+chunkSize, len(msgs))
		if err := p.writer.WriteMessages(ctx, msgs[start:end]...); err != nil {
			return fmt.Errorf("failed to write events: %w", err)
		}
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
