package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OFFIS-RIT/batchgraph/pkg/store"
)

var _ store.GraphRepository = (*GraphDBStorage)(nil)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

const (
	defaultChunkSize      = 1000
	defaultParallelWrites = 4
)

// GraphDBStorage implements store.GraphRepository on PostgreSQL. Upserts of
// events are written in parallel chunks; replace operations run in a single
// transaction so a phase either lands completely or not at all.
type GraphDBStorage struct {
	conn      pgxIConn
	chunkSize int
	parallel  int
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithChunkSize sets how many rows go into one write round trip.
func WithChunkSize(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithParallelWrites bounds the number of chunks written concurrently outside
// of transactions.
func WithParallelWrites(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.parallel = n
		}
	}
}

func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) (*GraphDBStorage, error) {
	s := &GraphDBStorage{
		conn:      conn,
		chunkSize: defaultChunkSize,
		parallel:  defaultParallelWrites,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

// inTx runs fn in a transaction and commits when fn succeeds.
func (s *GraphDBStorage) inTx(ctx context.Context, fn func(tx pgxv5.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// sendBatch executes every queued statement and closes the results.
func sendBatch(ctx context.Context, conn pgxIConn, b *pgxv5.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := conn.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}
