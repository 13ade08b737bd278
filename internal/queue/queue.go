package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	CoBatchQueue     = "cobatch_queue"
	AggregateQueue   = "aggregate_queue"
	EdgesQueue       = "edges_queue"
	ConsolidateQueue = "consolidate_queue"

	// retryTTL is how long a message waits in <queue>_retry before it is
	// dead-lettered back onto its queue.
	retryTTL = 10 * time.Second
)

// Queues lists the phase queues in pipeline order.
var Queues = []string{CoBatchQueue, AggregateQueue, EdgesQueue, ConsolidateQueue}

// Publisher is the part of *amqp091.Channel used to send messages.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("[Queue] Failed to connect to RabbitMQ", "host", host, "err", err)
	}

	return conn
}

// SetupQueues declares every queue together with its _retry and _dlq siblings.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryTTL.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retryName, err)
		}
	}
	logger.Debug("[Queue] Queues declared", "queues", queueNames)
	return nil
}

// PublishFIFO sends a persistent JSON message to the default exchange.
func PublishFIFO(ctx context.Context, p Publisher, queueName string, data []byte, headers amqp091.Table) error {
	return p.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
