package batching

import (
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func ev(id, resource, activity string, offset time.Duration) common.Event {
	return common.Event{
		ID:         id,
		ResourceID: resource,
		KitID:      "kit-" + id,
		Activity:   activity,
		Timestamp:  t0.Add(offset),
	}
}

func batchIDs(assignments []common.BatchAssignment) map[string]int64 {
	out := make(map[string]int64, len(assignments))
	for _, a := range assignments {
		out[a.EventID] = a.BatchID
	}
	return out
}

func TestAssignBatches(t *testing.T) {
	tests := []struct {
		name   string
		events []common.Event
		want   map[string]int64
	}{
		{
			name:   "empty input",
			events: nil,
			want:   map[string]int64{},
		},
		{
			name:   "first event opens batch one",
			events: []common.Event{ev("a", "r1", "pick", 0)},
			want:   map[string]int64{"a": 1},
		},
		{
			name: "gap just below five minutes joins",
			events: []common.Event{
				ev("a", "r1", "pick", 0),
				ev("b", "r1", "pick", 4*time.Minute+59*time.Second),
			},
			want: map[string]int64{"a": 1, "b": 1},
		},
		{
			name: "gap of exactly five minutes splits",
			events: []common.Event{
				ev("a", "r1", "pick", 0),
				ev("b", "r1", "pick", 5*time.Minute),
			},
			want: map[string]int64{"a": 1, "b": 2},
		},
		{
			name: "gap is measured to the previous event not the batch start",
			events: []common.Event{
				ev("a", "r1", "pick", 0),
				ev("b", "r1", "pick", 4*time.Minute),
				ev("c", "r1", "pick", 8*time.Minute),
			},
			want: map[string]int64{"a": 1, "b": 1, "c": 1},
		},
		{
			name: "activity change splits",
			events: []common.Event{
				ev("a", "r1", "pick", 0),
				ev("b", "r1", "pack", time.Minute),
				ev("c", "r1", "pick", 2*time.Minute),
			},
			want: map[string]int64{"a": 1, "b": 2, "c": 3},
		},
		{
			name: "interleaved resources split the global scan",
			events: []common.Event{
				ev("a", "r1", "pick", 0),
				ev("b", "r2", "pick", time.Minute),
				ev("c", "r1", "pick", 2*time.Minute),
			},
			want: map[string]int64{"a": 1, "b": 2, "c": 3},
		},
		{
			name: "same timestamp ties are broken by resource id",
			events: []common.Event{
				ev("b", "r2", "pick", 0),
				ev("a", "r1", "pick", 0),
				ev("c", "r2", "pick", time.Second),
			},
			want: map[string]int64{"a": 1, "b": 2, "c": 2},
		},
		{
			name: "events without kit are not batched",
			events: []common.Event{
				ev("a", "r1", "pick", 0),
				{ID: "x", ResourceID: "r1", Activity: "pick", Timestamp: t0.Add(time.Second)},
				ev("b", "r1", "pick", 2*time.Second),
			},
			want: map[string]int64{"a": 1, "b": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := batchIDs(AssignBatches(tt.events, 0))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("AssignBatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssignBatches_NonDecreasingAlongScan(t *testing.T) {
	events := []common.Event{
		ev("e5", "r2", "pack", 11*time.Minute),
		ev("e1", "r1", "pick", 0),
		ev("e3", "r1", "pick", 3*time.Minute),
		ev("e2", "r2", "pick", time.Minute),
		ev("e4", "r1", "pack", 10*time.Minute),
		ev("e6", "r2", "pack", 12*time.Minute),
	}
	assignments := AssignBatches(events, DefaultGap)
	if len(assignments) != len(events) {
		t.Fatalf("expected %d assignments, got %d", len(events), len(assignments))
	}
	for i := 1; i < len(assignments); i++ {
		prev, cur := assignments[i-1].BatchID, assignments[i].BatchID
		if cur < prev || cur > prev+1 {
			t.Fatalf("batch ids must grow by at most one: %d after %d", cur, prev)
		}
	}
	for _, e := range events {
		if e.BatchID == 0 {
			t.Fatalf("event %s was not assigned", e.ID)
		}
	}
}

func TestAssignBatches_CustomGap(t *testing.T) {
	events := []common.Event{
		ev("a", "r1", "pick", 0),
		ev("b", "r1", "pick", 90*time.Second),
	}
	got := batchIDs(AssignBatches(events, time.Minute))
	want := map[string]int64{"a": 1, "b": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AssignBatches() = %v, want %v", got, want)
	}
}
