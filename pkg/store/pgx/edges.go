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

const insertKitEdgesSQL = `
INSERT INTO batch_kit_edges (source, target, kit_id, run_id)
SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::text[], $4::text[])
ON CONFLICT DO NOTHING;
`

const insertResourceEdgesSQL = `
INSERT INTO batch_resource_edges (source, target, resource_id, created_on, count, ord, outgoing_order)
SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::text[], $4::date[], $5::int[], $6::int[], $7::int[]);
`

const listResourceEdgesSQL = `
SELECT source, target, resource_id, created_on, count, ord, outgoing_order
FROM batch_resource_edges
WHERE ($1 = '' OR resource_id = $1)
  AND ($2::date IS NULL OR created_on = $2::date)
ORDER BY resource_id, created_on, ord;
`

func (s *GraphDBStorage) ReplaceKitEdges(ctx context.Context, edges []common.KitEdge) error {
	logger.Debug("[Store][ReplaceKitEdges] Replacing kit edges", "edges", len(edges))

	return s.inTx(ctx, func(tx pgxv5.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM batch_kit_edges`); err != nil {
			return fmt.Errorf("failed to clear kit edges: %w", err)
		}
		return store.ChunkRange(len(edges), s.chunkSize, func(start, end int) error {
			n := end - start
			sources := make([]int64, 0, n)
			targets := make([]int64, 0, n)
			kits := make([]string, 0, n)
			runs := make([]string, 0, n)
			for _, e := range edges[start:end] {
				sources = append(sources, e.Source)
				targets = append(targets, e.Target)
				kits = append(kits, e.KitID)
				runs = append(runs, e.RunID)
			}
			if _, err := tx.Exec(ctx, insertKitEdgesSQL, sources, targets, kits, runs); err != nil {
				return fmt.Errorf("failed to insert kit edges %d-%d: %w", start, end, err)
			}
			return nil
		})
	})
}

func (s *GraphDBStorage) ReplaceResourceEdges(ctx context.Context, edges []common.ResourceEdge) error {
	logger.Debug("[Store][ReplaceResourceEdges] Replacing resource edges", "edges", len(edges))

	return s.inTx(ctx, func(tx pgxv5.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM batch_resource_edges`); err != nil {
			return fmt.Errorf("failed to clear resource edges: %w", err)
		}
		return store.ChunkRange(len(edges), s.chunkSize, func(start, end int) error {
			n := end - start
			sources := make([]int64, 0, n)
			targets := make([]int64, 0, n)
			resources := make([]string, 0, n)
			days := make([]time.Time, 0, n)
			counts := make([]int32, 0, n)
			orders := make([]int32, 0, n)
			outgoing := make([]int32, 0, n)
			for _, e := range edges[start:end] {
				sources = append(sources, e.Source)
				targets = append(targets, e.Target)
				resources = append(resources, e.ResourceID)
				days = append(days, common.DayOf(e.CreatedOn))
				counts = append(counts, int32(e.Count))
				orders = append(orders, int32(e.Order))
				outgoing = append(outgoing, int32(e.OutgoingOrder))
			}
			if _, err := tx.Exec(ctx, insertResourceEdgesSQL, sources, targets, resources, days, counts, orders, outgoing); err != nil {
				return fmt.Errorf("failed to insert resource edges %d-%d: %w", start, end, err)
			}
			return nil
		})
	})
}

// ListKitEdges returns the kit edges entering or leaving the batch.
func (s *GraphDBStorage) ListKitEdges(ctx context.Context, batchID int64) ([]common.KitEdge, error) {
	rows, err := s.conn.Query(ctx, `SELECT source, target, kit_id, run_id
FROM batch_kit_edges
WHERE source = $1 OR target = $1
ORDER BY source, target, kit_id, run_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list kit edges: %w", err)
	}
	return pgxv5.CollectRows(rows, pgxv5.RowToStructByPos[common.KitEdge])
}

func (s *GraphDBStorage) ListResourceEdges(ctx context.Context, filter store.ResourceEdgeFilter) ([]common.ResourceEdge, error) {
	rows, err := s.conn.Query(ctx, listResourceEdgesSQL, filter.ResourceID, dateArg(filter.Date))
	if err != nil {
		return nil, fmt.Errorf("failed to list resource edges: %w", err)
	}
	return pgxv5.CollectRows(rows, pgxv5.RowToStructByPos[common.ResourceEdge])
}
