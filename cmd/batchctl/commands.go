package main

import (
	"github.com/spf13/cobra"
)

var (
	csvPath      string
	phaseName    string
	useMemory    bool
	dumpGraph    bool
	steps        int
	resourceID   string
	dateFlag     string
	toStdout     bool
	produceBatch int

	rootCmd = &cobra.Command{
		Use:           "batchctl",
		Short:         "Operate the batch graph pipeline",
		Long:          "batchctl loads event logs, runs the batching pipeline, migrates the database and exports graph snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline, optionally on a CSV event log",
		Long: `Runs every phase in order, or a single phase with --phase.
Without DATABASE_URL, or with --memory, the run uses an in-process store and
needs --csv to have any events.`,
		Args: cobra.NoArgs,
		RunE: runRun, // Defined in run.go
	}

	migrateCmd = &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE:      runMigrate, // Defined in migrate.go
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Consume events from Kafka into the database, or publish a CSV log with --csv",
		Args:  cobra.NoArgs,
		RunE:  runIngest, // Defined in ingest.go
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export the graph snapshot of a resource to S3",
		Args:  cobra.NoArgs,
		RunE:  runExport, // Defined in export.go
	}
)

func init() {
	runCmd.Flags().StringVar(&csvPath, "csv", "", "event log to load first (local path or s3://bucket/key)")
	runCmd.Flags().StringVar(&phaseName, "phase", "", "run only this phase (cobatch, aggregate, edges, consolidate)")
	runCmd.Flags().BoolVar(&useMemory, "memory", false, "use an in-process store even if DATABASE_URL is set")
	runCmd.Flags().BoolVar(&dumpGraph, "dump", false, "print the resulting high level graphs as JSON")

	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply or roll back (0 = all)")

	ingestCmd.Flags().StringVar(&csvPath, "csv", "", "publish this event log to the topic instead of consuming")
	ingestCmd.Flags().IntVar(&produceBatch, "chunk", 500, "messages per Kafka write when publishing")

	exportCmd.Flags().StringVar(&resourceID, "resource", "", "resource to export")
	exportCmd.Flags().StringVar(&dateFlag, "date", "", "limit the snapshot to one day (yyyy-mm-dd)")
	exportCmd.Flags().BoolVar(&toStdout, "stdout", false, "print the snapshot instead of uploading it")
	_ = exportCmd.MarkFlagRequired("resource")

	rootCmd.AddCommand(runCmd, migrateCmd, ingestCmd, exportCmd)
}
