package pgx

import (
	"context"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"
)

const insertBatchSQL = `
INSERT INTO batches (id, activity, resource_id, kit_ids, run_ids, users, event_count, kit_count, earliest_ts, latest_ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

const listBatchesSQL = `
SELECT id, activity, resource_id, kit_ids, run_ids, users, event_count, kit_count, earliest_ts, latest_ts
FROM batches
WHERE ($1 = '' OR resource_id = $1 OR $1 = ANY(users))
  AND ($2::date IS NULL OR (earliest_ts AT TIME ZONE 'UTC')::date = $2::date)
ORDER BY earliest_ts, id;
`

const listResourcesSQL = `
SELECT DISTINCT r FROM (
    SELECT resource_id AS r FROM batches
    UNION
    SELECT unnest(users) FROM batches
) AS x
WHERE r <> ''
ORDER BY r;
`

// dateArg turns a zero time into SQL NULL so optional date filters can share
// one statement.
func dateArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return common.DayOf(t)
}

// ReplaceBatches swaps the whole batch table. Batch edges reference batches and
// are removed with them.
func (s *GraphDBStorage) ReplaceBatches(ctx context.Context, batches []common.Batch) error {
	logger.Debug("[Store][ReplaceBatches] Replacing batches", "batches", len(batches))

	return s.inTx(ctx, func(tx pgxv5.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM batches`); err != nil {
			return fmt.Errorf("failed to clear batches: %w", err)
		}
		return store.ChunkRange(len(batches), s.chunkSize, func(start, end int) error {
			b := &pgxv5.Batch{}
			for _, n := range batches[start:end] {
				b.Queue(insertBatchSQL,
					n.ID, n.Activity, n.ResourceID,
					nonNil(n.KitIDs), nonNil(n.RunIDs), nonNil(n.Users),
					n.EventCount, n.KitCount,
					n.EarliestTimestamp.UTC(), n.LatestTimestamp.UTC(),
				)
			}
			if err := sendBatch(ctx, tx, b); err != nil {
				return fmt.Errorf("failed to insert batches %d-%d: %w", start, end, err)
			}
			return nil
		})
	})
}

func (s *GraphDBStorage) ListBatches(ctx context.Context, filter store.BatchFilter) ([]common.Batch, error) {
	rows, err := s.conn.Query(ctx, listBatchesSQL, filter.ResourceID, dateArg(filter.Date))
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Batch, error) {
		var b common.Batch
		err := row.Scan(
			&b.ID, &b.Activity, &b.ResourceID,
			&b.KitIDs, &b.RunIDs, &b.Users,
			&b.EventCount, &b.KitCount,
			&b.EarliestTimestamp, &b.LatestTimestamp,
		)
		b.EarliestTimestamp = b.EarliestTimestamp.UTC()
		b.LatestTimestamp = b.LatestTimestamp.UTC()
		return b, err
	})
}

func (s *GraphDBStorage) ListResources(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, listResourcesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return pgxv5.CollectRows(rows, pgxv5.RowTo[string])
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
