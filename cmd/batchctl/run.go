package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"
)

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := pipeline.ConfigFromEnv()
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, useMemory, cfg.WriteChunkSize)
	if err != nil {
		return err
	}
	defer b.close()

	if csvPath != "" {
		events, err := loadEvents(ctx, csvPath)
		if err != nil {
			return err
		}
		if err := b.repo.SaveEvents(ctx, events); err != nil {
			return fmt.Errorf("failed to save events: %w", err)
		}
		logger.Info("Loaded events", "path", csvPath, "events", len(events))
	}

	runner, err := pipeline.NewRunner(pipeline.Params{Repo: b.repo, Locker: b.locker, Config: cfg})
	if err != nil {
		return err
	}

	summaries, runErr := execute(ctx, runner, phaseName)
	printSummaries(cmd.OutOrStdout(), summaries)
	if runErr != nil {
		return runErr
	}
	if dumpGraph {
		return dumpGraphs(ctx, cmd.OutOrStdout(), b.repo)
	}
	return nil
}

func execute(ctx context.Context, runner *pipeline.Runner, phase string) ([]pipeline.Summary, error) {
	runID := pipeline.NewRunID()
	if phase == "" {
		return runner.RunAll(ctx, runID)
	}
	p, err := pipeline.ParsePhase(phase)
	if err != nil {
		return nil, err
	}
	s, err := runner.RunPhase(ctx, runID, p)
	return []pipeline.Summary{s}, err
}

func printSummaries(w io.Writer, summaries []pipeline.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tPROCESSED\tSKIPPED\tFAILED\tDURATION")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", s.Phase, s.Processed, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()
	for _, s := range summaries {
		for _, e := range s.Errors {
			fmt.Fprintf(w, "%s: %s\n", s.Phase, e)
		}
	}
}

func dumpGraphs(ctx context.Context, w io.Writer, repo store.GraphRepository) error {
	resources, err := repo.ListResources(ctx)
	if err != nil {
		return err
	}
	graphs := make([]common.HighLevelGraph, 0, len(resources))
	for _, r := range resources {
		filter := store.HighLevelFilter{ResourceID: r}
		nodes, err := repo.ListHighLevelBatches(ctx, filter)
		if err != nil {
			return err
		}
		edges, err := repo.ListHighLevelEdges(ctx, filter)
		if err != nil {
			return err
		}
		graphs = append(graphs, common.HighLevelGraph{ResourceID: r, Nodes: nodes, Edges: edges})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(graphs)
}
