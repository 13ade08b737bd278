package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/batchgraph/internal/storage"
)

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	date, err := parseDate(dateFlag)
	if err != nil {
		return err
	}

	b, err := openPostgres(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	if toStdout {
		snap, err := storage.Collect(ctx, b.repo, resourceID, date)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	exp, err := storage.NewExporterFromEnv(ctx)
	if err != nil {
		return err
	}
	key, err := exp.Export(ctx, b.repo, resourceID, date)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
