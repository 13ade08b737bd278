package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OFFIS-RIT/batchgraph/internal/storage"
	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/batchgraph/pkg/loader"
	csvloader "github.com/OFFIS-RIT/batchgraph/pkg/loader/csv"
	ioloader "github.com/OFFIS-RIT/batchgraph/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/batchgraph/pkg/loader/s3"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"
	"github.com/OFFIS-RIT/batchgraph/pkg/store/memory"
	pgxstore "github.com/OFFIS-RIT/batchgraph/pkg/store/pgx"
)

type backend struct {
	repo   store.GraphRepository
	locker leaselock.Locker
	close  func()
}

// openBackend connects to DATABASE_URL unless memory is requested or no
// database is configured.
func openBackend(ctx context.Context, memoryOnly bool, chunkSize int) (backend, error) {
	dsn := util.GetEnvString("DATABASE_URL", "")
	if memoryOnly || dsn == "" {
		return backend{repo: memory.New(), locker: leaselock.NewLocal(), close: func() {}}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return backend{}, fmt.Errorf("unable to connect to database: %w", err)
	}
	repo, err := pgxstore.NewGraphDBStorageWithConnection(ctx, pool, pgxstore.WithChunkSize(chunkSize))
	if err != nil {
		pool.Close()
		return backend{}, err
	}
	return backend{repo: repo, locker: leaselock.New(pool), close: pool.Close}, nil
}

func openPostgres(ctx context.Context) (backend, error) {
	if util.GetEnvString("DATABASE_URL", "") == "" {
		return backend{}, errors.New("DATABASE_URL is not set")
	}
	return openBackend(ctx, false, util.GetEnvInt("WRITE_CHUNK_SIZE", 1000))
}

// loadEvents reads a CSV event log from disk or from S3.
func loadEvents(ctx context.Context, path string) ([]common.Event, error) {
	var l loader.FileLoader
	if _, _, ok := loader.SplitS3URI(path); ok {
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		l = s3loader.NewS3FileLoaderWithClient(util.GetEnvString("AWS_BUCKET", ""), client)
	} else {
		l = ioloader.NewIOFileLoader()
	}
	return csvloader.NewCSVEventLoader(l).LoadEvents(ctx, path)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", s)
	}
	return d, nil
}
