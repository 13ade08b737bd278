package main

import (
	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/batchgraph/internal/migrate"
	"github.com/OFFIS-RIT/batchgraph/internal/util"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	dsn := util.GetEnv("DATABASE_URL")
	path := util.GetEnvString("MIGRATIONS_PATH", "migrations")
	if len(args) == 1 && args[0] == "down" {
		return migrate.Down(dsn, path, steps)
	}
	return migrate.Up(dsn, path, steps)
}
