package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/batchgraph/internal/ingest"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
)

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := ingest.ConfigFromEnv()

	if csvPath != "" {
		events, err := loadEvents(ctx, csvPath)
		if err != nil {
			return err
		}
		p := ingest.NewProducer(ingest.NewWriter(cfg))
		defer p.Close()
		if err := p.Send(ctx, events, produceBatch); err != nil {
			return err
		}
		logger.Info("Published events", "topic", cfg.Topic, "events", len(events))
		return nil
	}

	b, err := openPostgres(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	reader := ingest.NewReader(cfg)
	defer reader.Close()

	c := ingest.NewConsumer(ingest.ConsumerParams{Reader: reader, Sink: b.repo, Config: cfg})
	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("ingest stopped: %w", err)
	}
	return nil
}
