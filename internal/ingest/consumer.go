package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type EventSink interface {
	SaveEvents(ctx context.Context, events []common.Event) error
}

// Counter receives ingest outcomes. result is "saved", "invalid" or "failed".
type Counter interface {
	IngestEvents(result string, n int)
}

func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.Group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

type ConsumerParams struct {
	Reader  Reader
	Sink    EventSink
	Counter Counter
	Config  Config
}

// Consumer commits a message only after every event it carried is stored, so a
// crash replays the uncommitted messages. Saving is an upsert by event id.
type Consumer struct {
	reader  Reader
	sink    EventSink
	counter Counter
	cfg     Config
	limiter *rate.Limiter

	pending []common.Event
	msgs    []kafka.Message
}

func NewConsumer(p ConsumerParams) *Consumer {
	cfg := p.Config.normalize()
	limit := rate.Inf
	if cfg.WritesPerSecond > 0 {
		limit = rate.Limit(cfg.WritesPerSecond)
	}
	return &Consumer{
		reader:  p.Reader,
		sink:    p.Sink,
		counter: p.Counter,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Consumer) count(result string, n int) {
	if c.counter != nil && n > 0 {
		c.counter.IngestEvents(result, n)
	}
}

// Run consumes until ctx is done. Pending events are flushed before it returns.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info("[Ingest] Consuming events", "topic", c.cfg.Topic, "group", c.cfg.Group)
	for {
		fctx, cancel := context.WithTimeout(ctx, c.cfg.FlushInterval)
		msg, err := c.reader.FetchMessage(fctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return c.shutdown(ctx)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if err := c.flush(ctx); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		c.msgs = append(c.msgs, msg)
		events, err := Decode(msg.Value)
		if err != nil {
			logger.Warn("[Ingest] Skipping invalid message",
				"partition", msg.Partition, "offset", msg.Offset, "err", err)
			c.count("invalid", 1)
			continue
		}
		c.pending = append(c.pending, events...)

		if len(c.pending) >= c.cfg.BatchSize {
			if err := c.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) shutdown(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.flush(fctx); err != nil {
		logger.Error("[Ingest] Failed to flush on shutdown", "events", len(c.pending), "err", err)
		return err
	}
	logger.Info("[Ingest] Consumer stopped")
	return nil
}

func (c *Consumer) flush(ctx context.Context) error {
	if len(c.msgs) == 0 {
		return nil
	}

	if n := len(c.pending); n > 0 {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := util.RetryErrWithBackoff(ctx, c.cfg.MaxRetries, 200*time.Millisecond, func(ctx context.Context) error {
			return c.sink.SaveEvents(ctx, c.pending)
		})
		if err != nil {
			c.count("failed", n)
			return fmt.Errorf("failed to save %d events: %w", n, err)
		}
		c.count("saved", n)
	}

	if err := c.reader.CommitMessages(ctx, c.msgs...); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	logger.Debug("[Ingest] Flushed", "events", len(c.pending), "messages", len(c.msgs))
	c.pending = nil
	c.msgs = nil
	return nil
}
