package store

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"golang.org/x/sync/errgroup"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// ChunkRangeParallel is ChunkRange with up to limit chunks in flight. The
// first error cancels the context handed to the remaining chunks.
func ChunkRangeParallel(
	ctx context.Context,
	total, chunkSize, limit int,
	fn func(ctx context.Context, start, end int) error,
) error {
	if total <= 0 {
		return nil
	}
	eg, ectx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	_ = ChunkRange(total, chunkSize, func(start, end int) error {
		eg.Go(func() error {
			return fn(ectx, start, end)
		})
		return nil
	})
	return eg.Wait()
}

func MatchesDay(filter, t time.Time) bool {
	return filter.IsZero() || common.DayOf(filter).Equal(common.DayOf(t))
}

// FilterBatches applies f in memory.
func FilterBatches(in []common.Batch, f BatchFilter) []common.Batch {
	out := make([]common.Batch, 0, len(in))
	for _, b := range in {
		if f.ResourceID != "" && !b.HasUser(f.ResourceID) && b.ResourceID != f.ResourceID {
			continue
		}
		if !MatchesDay(f.Date, b.EarliestTimestamp) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FilterResourceEdges applies f in memory.
func FilterResourceEdges(in []common.ResourceEdge, f ResourceEdgeFilter) []common.ResourceEdge {
	out := make([]common.ResourceEdge, 0, len(in))
	for _, e := range in {
		if f.ResourceID != "" && e.ResourceID != f.ResourceID {
			continue
		}
		if !MatchesDay(f.Date, e.CreatedOn) {
			continue
		}
		out = append(out, e)
	}
	return out
}
