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

const eventColumns = `id, resource_id, kit_id, run_id, activity, ts, participants, COALESCE(batch_id, 0)`

const upsertEventSQL = `
INSERT INTO events (id, resource_id, kit_id, run_id, activity, ts, participants)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET resource_id  = EXCLUDED.resource_id,
    kit_id       = EXCLUDED.kit_id,
    run_id       = EXCLUDED.run_id,
    activity     = EXCLUDED.activity,
    ts           = EXCLUDED.ts,
    participants = EXCLUDED.participants;
`

const upsertEventRelationsSQL = `
INSERT INTO event_relations (kind, source_event_id, target_event_id, scope_id)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
ON CONFLICT DO NOTHING;
`

const assignBatchesSQL = `
UPDATE events AS e
SET batch_id = a.batch_id
FROM unnest($1::text[], $2::bigint[]) AS a(event_id, batch_id)
WHERE e.id = a.event_id;
`

func scanEvent(row pgxv5.CollectableRow) (common.Event, error) {
	var e common.Event
	var ts time.Time
	err := row.Scan(&e.ID, &e.ResourceID, &e.KitID, &e.RunID, &e.Activity, &ts, &e.Participants, &e.BatchID)
	e.Timestamp = ts.UTC()
	return e, err
}

// ListCorrelatedEvents returns every event that has a resource, ordered the
// way the co-batcher scans them.
func (s *GraphDBStorage) ListCorrelatedEvents(ctx context.Context) ([]common.Event, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+eventColumns+` FROM events
WHERE resource_id <> ''
ORDER BY ts, resource_id, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return pgxv5.CollectRows(rows, scanEvent)
}

func (s *GraphDBStorage) ListEventsForBatches(ctx context.Context, batchIDs []int64) ([]common.Event, error) {
	if len(batchIDs) == 0 {
		return []common.Event{}, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+eventColumns+` FROM events
WHERE batch_id = ANY($1::bigint[])
ORDER BY ts, id`, batchIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for batches: %w", err)
	}
	return pgxv5.CollectRows(rows, scanEvent)
}

func (s *GraphDBStorage) ListEventRelations(ctx context.Context, kind common.EdgeKind) ([]common.EventRelation, error) {
	rows, err := s.conn.Query(ctx, `SELECT kind, source_event_id, target_event_id, scope_id
FROM event_relations
WHERE kind = $1
ORDER BY scope_id, source_event_id, target_event_id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s relations: %w", kind, err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.EventRelation, error) {
		var r common.EventRelation
		var k string
		err := row.Scan(&k, &r.SourceEventID, &r.TargetEventID, &r.ScopeID)
		r.Kind = common.EdgeKind(k)
		return r, err
	})
}

// SaveEvents upserts events in parallel chunks. Batch assignments are left
// untouched.
func (s *GraphDBStorage) SaveEvents(ctx context.Context, events []common.Event) error {
	if len(events) == 0 {
		return nil
	}
	logger.Debug("[Store][SaveEvents] Upserting events", "events", len(events))

	return store.ChunkRangeParallel(ctx, len(events), s.chunkSize, s.parallel, func(ctx context.Context, start, end int) error {
		b := &pgxv5.Batch{}
		for _, e := range events[start:end] {
			participants := e.Participants
			if participants == nil {
				participants = []string{}
			}
			b.Queue(upsertEventSQL, e.ID, e.ResourceID, e.KitID, e.RunID, e.Activity, e.Timestamp.UTC(), participants)
		}
		if err := sendBatch(ctx, s.conn, b); err != nil {
			return fmt.Errorf("failed to save events %d-%d: %w", start, end, err)
		}
		return nil
	})
}

func (s *GraphDBStorage) SaveEventRelations(ctx context.Context, relations []common.EventRelation) error {
	if len(relations) == 0 {
		return nil
	}
	logger.Debug("[Store][SaveEventRelations] Upserting relations", "relations", len(relations))

	return store.ChunkRangeParallel(ctx, len(relations), s.chunkSize, s.parallel, func(ctx context.Context, start, end int) error {
		n := end - start
		kinds := make([]string, 0, n)
		sources := make([]string, 0, n)
		targets := make([]string, 0, n)
		scopes := make([]string, 0, n)
		for _, r := range relations[start:end] {
			kinds = append(kinds, string(r.Kind))
			sources = append(sources, r.SourceEventID)
			targets = append(targets, r.TargetEventID)
			scopes = append(scopes, r.ScopeID)
		}
		if _, err := s.conn.Exec(ctx, upsertEventRelationsSQL, kinds, sources, targets, scopes); err != nil {
			return fmt.Errorf("failed to save relations %d-%d: %w", start, end, err)
		}
		return nil
	})
}

// AssignEventBatches clears every previous assignment and writes the new ones
// in one transaction.
func (s *GraphDBStorage) AssignEventBatches(ctx context.Context, assignments []common.BatchAssignment) error {
	return s.inTx(ctx, func(tx pgxv5.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE events SET batch_id = NULL WHERE batch_id IS NOT NULL`); err != nil {
			return fmt.Errorf("failed to clear batch assignments: %w", err)
		}
		return store.ChunkRange(len(assignments), s.chunkSize, func(start, end int) error {
			ids := make([]string, 0, end-start)
			batchIDs := make([]int64, 0, end-start)
			for _, a := range assignments[start:end] {
				ids = append(ids, a.EventID)
				batchIDs = append(batchIDs, a.BatchID)
			}
			if _, err := tx.Exec(ctx, assignBatchesSQL, ids, batchIDs); err != nil {
				return fmt.Errorf("failed to assign batches %d-%d: %w", start, end, err)
			}
			return nil
		})
	})
}
