package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"
)

const insertHighLevelBatchSQL = `
INSERT INTO high_level_batches (resource_id, id, created_on, activities, start_ts, end_ts, event_count, work_together)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`

const insertMembersSQL = `
INSERT INTO high_level_batch_members (resource_id, hlb_id, batch_id)
SELECT $1, * FROM unnest($2::bigint[], $3::bigint[]);
`

const insertHighLevelEventsSQL = `
INSERT INTO high_level_batch_events (resource_id, hlb_id, event_id)
SELECT $1, * FROM unnest($2::bigint[], $3::text[])
ON CONFLICT DO NOTHING;
`

const insertHighLevelEdgesSQL = `
INSERT INTO high_level_edges (resource_id, source, target, count, ord)
SELECT $1, * FROM unnest($2::bigint[], $3::bigint[], $4::int[], $5::int[]);
`

const listHighLevelBatchesSQL = `
SELECT h.id, h.resource_id, h.created_on,
       COALESCE((SELECT array_agg(m.batch_id ORDER BY m.batch_id)
                 FROM high_level_batch_members m
                 WHERE m.resource_id = h.resource_id AND m.hlb_id = h.id), '{}'::bigint[]),
       h.activities,
       COALESCE((SELECT array_agg(e.event_id ORDER BY e.event_id)
                 FROM high_level_batch_events e
                 WHERE e.resource_id = h.resource_id AND e.hlb_id = h.id), '{}'::text[]),
       h.start_ts, h.end_ts, h.event_count, h.work_together
FROM high_level_batches h
WHERE ($1 = '' OR h.resource_id = $1)
  AND ($2::date IS NULL OR h.created_on = $2::date)
ORDER BY h.resource_id, h.id;
`

const listHighLevelEdgesSQL = `
SELECT e.source, e.target, e.resource_id, e.count, e.ord
FROM high_level_edges e
JOIN high_level_batches h ON h.resource_id = e.resource_id AND h.id = e.source
WHERE ($1 = '' OR e.resource_id = $1)
  AND ($2::date IS NULL OR h.created_on = $2::date)
ORDER BY e.resource_id, e.source, e.target;
`

func (s *GraphDBStorage) ListHighLevelBatches(ctx context.Context, filter store.HighLevelFilter) ([]common.HighLevelBatch, error) {
	rows, err := s.conn.Query(ctx, listHighLevelBatchesSQL, filter.ResourceID, dateArg(filter.Date))
	if err != nil {
		return nil, fmt.Errorf("failed to list high level batches: %w", err)
	}
	out, err := pgxv5.CollectRows(rows, pgxv5.RowToStructByPos[common.HighLevelBatch])
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].StartTimestamp = out[i].StartTimestamp.UTC()
		out[i].EndTimestamp = out[i].EndTimestamp.UTC()
	}
	return out, nil
}

func (s *GraphDBStorage) ListHighLevelEdges(ctx context.Context, filter store.HighLevelFilter) ([]common.HighLevelEdge, error) {
	rows, err := s.conn.Query(ctx, listHighLevelEdgesSQL, filter.ResourceID, dateArg(filter.Date))
	if err != nil {
		return nil, fmt.Errorf("failed to list high level edges: %w", err)
	}
	return pgxv5.CollectRows(rows, pgxv5.RowToStructByPos[common.HighLevelEdge])
}

// ReplaceHighLevelGraph drops the previous high level graph of the resource
// and writes graph in its place within one transaction.
func (s *GraphDBStorage) ReplaceHighLevelGraph(ctx context.Context, resourceID string, graph common.HighLevelGraph) error {
	logger.Debug("[Store][ReplaceHighLevelGraph] Replacing graph",
		"resource", resourceID, "nodes", len(graph.Nodes), "edges", len(graph.Edges))

	return s.inTx(ctx, func(tx pgxv5.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM high_level_batches WHERE resource_id = $1`, resourceID); err != nil {
			return fmt.Errorf("failed to clear high level graph: %w", err)
		}

		b := &pgxv5.Batch{}
		var memberNodes, memberBatches, eventNodes []int64
		var eventIDs []string
		for _, n := range graph.Nodes {
			b.Queue(insertHighLevelBatchSQL,
				resourceID, n.ID, common.DayOf(n.CreatedOn), nonNil(n.Activities),
				n.StartTimestamp.UTC(), n.EndTimestamp.UTC(), n.EventCount, n.WorkTogether,
			)
			for _, id := range n.BatchIDs {
				memberNodes = append(memberNodes, n.ID)
				memberBatches = append(memberBatches, id)
			}
			for _, id := range n.EventIDs {
				eventNodes = append(eventNodes, n.ID)
				eventIDs = append(eventIDs, id)
			}
		}
		if err := sendBatch(ctx, tx, b); err != nil {
			return fmt.Errorf("failed to insert high level batches: %w", err)
		}

		if len(memberNodes) > 0 {
			if _, err := tx.Exec(ctx, insertMembersSQL, resourceID, memberNodes, memberBatches); err != nil {
				return fmt.Errorf("failed to insert high level members: %w", err)
			}
		}
		if len(eventNodes) > 0 {
			if _, err := tx.Exec(ctx, insertHighLevelEventsSQL, resourceID, eventNodes, eventIDs); err != nil {
				return fmt.Errorf("failed to insert high level events: %w", err)
			}
		}

		if len(graph.Edges) == 0 {
			return nil
		}
		sources := make([]int64, 0, len(graph.Edges))
		targets := make([]int64, 0, len(graph.Edges))
		counts := make([]int32, 0, len(graph.Edges))
		orders := make([]int32, 0, len(graph.Edges))
		for _, e := range graph.Edges {
			sources = append(sources, e.Source)
			targets = append(targets, e.Target)
			counts = append(counts, int32(e.Count))
			orders = append(orders, int32(e.Order))
		}
		if _, err := tx.Exec(ctx, insertHighLevelEdgesSQL, resourceID, sources, targets, counts, orders); err != nil {
			return fmt.Errorf("failed to insert high level edges: %w", err)
		}
		return nil
	})
}
