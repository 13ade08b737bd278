// Package ingest moves events from a Kafka topic into the event store.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

type Config struct {
	Brokers []string
	Topic   string
	Group   string
	// BatchSize is the number of events written to the store at once.
	BatchSize int
	// FlushInterval bounds how long decoded events wait for a full batch.
	FlushInterval time.Duration
	// WritesPerSecond throttles store writes. Zero disables throttling.
	WritesPerSecond float64
	MaxRetries      int
}

func ConfigFromEnv() Config {
	return Config{
		Brokers:         util.GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		Topic:           util.GetEnvString("KAFKA_TOPIC", "events"),
		Group:           util.GetEnvString("KAFKA_GROUP", "batchgraph"),
		BatchSize:       util.GetEnvInt("INGEST_BATCH_SIZE", 500),
		FlushInterval:   util.GetEnvDuration("INGEST_FLUSH_INTERVAL", 2*time.Second),
		WritesPerSecond: util.GetEnvNumeric("INGEST_WRITES_PER_SECOND", 10),
		MaxRetries:      util.GetEnvInt("REPO_MAX_RETRIES", 3),
	}
}

func (c Config) normalize() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	return c
}

// Decode reads one message value: a single event object or an array of them.
func Decode(value []byte) ([]common.Event, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, errors.New("empty message")
	}

	var events []common.Event
	if value[0] == '[' {
		if err := json.Unmarshal(value, &events); err != nil {
			return nil, fmt.Errorf("failed to decode events: %w", err)
		}
	} else {
		var e common.Event
		if err := json.Unmarshal(value, &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = []common.Event{e}
	}

	for i := range events {
		if err := validate(events[i]); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events[i].Timestamp = events[i].Timestamp.UTC()
		// Batch ids are assigned by co-batching only.
		events[i].BatchID = 0
	}
	return events, nil
}

func validate(e common.Event) error {
	switch {
	case e.ID == "":
		return errors.New("missing id")
	case e.ResourceID == "":
		return errors.New("missing resource_id")
	case e.Activity == "":
		return errors.New("missing activity")
	case e.Timestamp.IsZero():
		return errors.New("missing timestamp")
	}
	return nil
}
