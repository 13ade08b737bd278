package batching

import (
	"sort"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

// DefaultGap is the longest pause between two events of the same resource and
// activity that still keeps them in one batch. The bound is exclusive.
const DefaultGap = 5 * time.Minute

// cursor is the accumulator threaded through the scan. It is the only state
// that mints batch ids.
type cursor struct {
	current int64
	prev    *common.Event
}

func (c cursor) next(e *common.Event, gap time.Duration) cursor {
	if c.prev == nil {
		return cursor{current: 1, prev: e}
	}
	if joins(c.prev, e, gap) {
		return cursor{current: c.current, prev: e}
	}
	return cursor{current: c.current + 1, prev: e}
}

func joins(prev, e *common.Event, gap time.Duration) bool {
	return e.ResourceID == prev.ResourceID &&
		e.Activity == prev.Activity &&
		e.Timestamp.Sub(prev.Timestamp) < gap
}

// SortEvents orders events the way the co-batcher scans them: by timestamp,
// then resource id, then event id so that equal keys stay deterministic.
func SortEvents(events []common.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.ID < b.ID
	})
}

// AssignBatches walks the events in scan order and places every event in a
// batch. A new batch starts whenever the resource or the activity changes
// between two consecutive events, or when they are gap or more apart.
//
// Events without a resource or kit correlation are not part of the scan. The
// input slice is sorted in place and every scanned event gets its BatchID set.
// A gap <= 0 falls back to DefaultGap.
func AssignBatches(events []common.Event, gap time.Duration) []common.BatchAssignment {
	if gap <= 0 {
		gap = DefaultGap
	}
	SortEvents(events)

	assignments := make([]common.BatchAssignment, 0, len(events))
	var c cursor
	for i := range events {
		e := &events[i]
		if e.ResourceID == "" || !e.HasKit() {
			continue
		}
		c = c.next(e, gap)
		e.BatchID = c.current
		assignments = append(assignments, common.BatchAssignment{
			EventID: e.ID,
			BatchID: c.current,
		})
	}
	return assignments
}
