package batching

import (
	"errors"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

// ErrInconsistentGroup is returned when the events of one batch disagree on
// resource or activity. The co-batcher never produces such groups, so hitting
// it means the stored assignment was tampered with.
var ErrInconsistentGroup = errors.New("inconsistent batch group")

// InconsistentGroupError names the offending batch.
type InconsistentGroupError struct {
	BatchID int64
	Field   string
	Values  []string
}

func (e *InconsistentGroupError) Error() string {
	return fmt.Sprintf("batch %d mixes %s values %v", e.BatchID, e.Field, e.Values)
}

func (e *InconsistentGroupError) Unwrap() error {
	return ErrInconsistentGroup
}

// AggregateBatches builds one Batch per batch id from the assigned events.
// Events without batch id or kit correlation are ignored.
//
// Groups that violate the single resource / single activity rule are left out
// of the result and reported through the returned error, which joins one
// *InconsistentGroupError per group. All other batches are still returned.
func AggregateBatches(events []common.Event) ([]common.Batch, error) {
	groups := make(map[int64][]common.Event)
	for _, e := range events {
		if e.BatchID == 0 || !e.HasKit() {
			continue
		}
		groups[e.BatchID] = append(groups[e.BatchID], e)
	}

	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	batches := make([]common.Batch, 0, len(ids))
	var errs []error
	for _, id := range ids {
		b, err := aggregateGroup(id, groups[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		batches = append(batches, b)
	}
	return batches, errors.Join(errs...)
}

func aggregateGroup(id int64, events []common.Event) (common.Batch, error) {
	first := events[0]
	b := common.Batch{
		ID:                id,
		Activity:          first.Activity,
		ResourceID:        first.ResourceID,
		EventCount:        len(events),
		EarliestTimestamp: first.Timestamp,
		LatestTimestamp:   first.Timestamp,
	}

	kits := make([]string, 0, len(events))
	runs := make([]string, 0, len(events))
	users := []string{first.ResourceID}
	resources := []string{first.ResourceID}
	activities := []string{first.Activity}

	for _, e := range events {
		if e.ResourceID != b.ResourceID {
			resources = append(resources, e.ResourceID)
		}
		if e.Activity != b.Activity {
			activities = append(activities, e.Activity)
		}
		if e.Timestamp.Before(b.EarliestTimestamp) {
			b.EarliestTimestamp = e.Timestamp
		}
		if e.Timestamp.After(b.LatestTimestamp) {
			b.LatestTimestamp = e.Timestamp
		}
		kits = append(kits, e.KitID)
		runs = append(runs, e.RunID)
		users = append(users, e.Participants...)
	}

	if len(resources) > 1 {
		return common.Batch{}, &InconsistentGroupError{BatchID: id, Field: "resource", Values: common.SortedStrings(resources)}
	}
	if len(activities) > 1 {
		return common.Batch{}, &InconsistentGroupError{BatchID: id, Field: "activity", Values: common.SortedStrings(activities)}
	}

	b.KitIDs = common.SortedStrings(kits)
	b.KitCount = len(b.KitIDs)
	b.RunIDs = common.SortedStrings(runs)
	b.Users = common.SortedStrings(users)
	return b, nil
}
