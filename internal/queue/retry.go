package queue

import (
	"context"

	"github.com/OFFIS-RIT/batchgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is how often a message goes through <queue>_retry before it is
// parked in <queue>_dlq.
const MaxRetries = 10

const retriesHeader = "x-retries"

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError moves a failed message to the retry or dead letter
// queue and acknowledges the original. If that publish fails the message is
// requeued instead. The returned result is "retry", "dlq" or "requeue".
func HandleProcessingError(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string) string {
	retries := retryCount(msg.Headers)

	target, result := queueName+"_retry", "retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if retries >= MaxRetries {
		target, result = queueName+"_dlq", "dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	if err := PublishFIFO(ctx, pub, target, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to publish failed message", "target", target, "err", err)
		_ = msg.Nack(false, true)
		return "requeue"
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "queue", queueName, "err", err)
	}
	return result
}
