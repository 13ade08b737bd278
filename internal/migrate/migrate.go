// Package migrate applies the SQL migrations in migrations/ to the database.
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
)

const defaultPath = "migrations"

// SourceURL turns a directory into a file:// source url. Urls with a scheme
// are returned unchanged.
func SourceURL(path string) string {
	if path == "" {
		path = defaultPath
	}
	if strings.Contains(path, "://") {
		return path
	}
	return "file://" + path
}

// DatabaseURL rewrites pgx style urls to the postgres:// scheme lib/pq
// understands.
func DatabaseURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "pgx5://", "pgx://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "postgres://" + rest
		}
	}
	return dsn
}

func open(dsn, path string) (*migrate.Migrate, error) {
	db, err := sql.Open("postgres", DatabaseURL(dsn))
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: util.GetEnvString("MIGRATIONS_TABLE", postgres.DefaultMigrationsTable),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return migrate.NewWithDatabaseInstance(SourceURL(path), "postgres", driver)
}

// Up applies all pending migrations. steps > 0 applies only that many.
func Up(dsn, path string, steps int) error {
	m, err := open(dsn, path)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer closeMigrate(m)

	if steps > 0 {
		err = m.Steps(steps)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("[Migrate] Database is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("[Migrate] Migrations applied", "version", version, "dirty", dirty)
	return nil
}

// Down rolls back steps migrations, or all of them when steps <= 0.
func Down(dsn, path string, steps int) error {
	m, err := open(dsn, path)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer closeMigrate(m)

	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	logger.Info("[Migrate] Migrations rolled back", "steps", steps)
	return nil
}

// FromEnv applies all pending migrations from MIGRATIONS_PATH to DATABASE_URL.
func FromEnv() error {
	return Up(util.GetEnv("DATABASE_URL"), util.GetEnvString("MIGRATIONS_PATH", defaultPath), 0)
}

func closeMigrate(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn("[Migrate] Failed to close migrator", "err", err)
	}
}
