package dfg

import (
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestResourceEdgeLedger_OrdersAreGapFree(t *testing.T) {
	l := NewResourceEdgeLedger()
	l.Observe(1, 2, "r1", day, 1)
	l.Observe(2, 3, "r1", day, 1)
	l.Observe(1, 2, "r1", day, 2)
	l.Observe(1, 3, "r1", day, 1)
	l.Observe(3, 1, "r1", day.Add(24*time.Hour), 1)
	l.Observe(5, 6, "r2", day, 1)

	got := l.Edges()
	want := []common.ResourceEdge{
		{Source: 1, Target: 2, ResourceID: "r1", CreatedOn: day, Count: 3, Order: 1, OutgoingOrder: 1},
		{Source: 2, Target: 3, ResourceID: "r1", CreatedOn: day, Count: 1, Order: 2, OutgoingOrder: 1},
		{Source: 1, Target: 3, ResourceID: "r1", CreatedOn: day, Count: 1, Order: 3, OutgoingOrder: 2},
		{Source: 3, Target: 1, ResourceID: "r1", CreatedOn: day.Add(24 * time.Hour), Count: 1, Order: 1, OutgoingOrder: 1},
		{Source: 5, Target: 6, ResourceID: "r2", CreatedOn: day, Count: 1, Order: 1, OutgoingOrder: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Edges() =\n%+v\nwant\n%+v", got, want)
	}
	if l.Len() != 5 {
		t.Fatalf("expected 5 edges, got %d", l.Len())
	}
}

func TestResourceEdgeLedger_RepeatDoesNotReassignOrder(t *testing.T) {
	l := NewResourceEdgeLedger()
	if !l.Observe(1, 2, "r1", at(8, 0), 1) {
		t.Fatal("first observation must create the edge")
	}
	if l.Observe(1, 2, "r1", at(17, 30), 4) {
		t.Fatal("second observation on the same day must merge")
	}
	edges := l.Edges()
	if len(edges) != 1 || edges[0].Count != 5 || edges[0].Order != 1 {
		t.Fatalf("unexpected edges %+v", edges)
	}
}

func TestDeriveEventRelations(t *testing.T) {
	events := []common.Event{
		{ID: "e3", ResourceID: "r1", KitID: "k1", Timestamp: at(9, 0)},
		{ID: "e1", ResourceID: "r1", KitID: "k1", Timestamp: at(8, 0)},
		{ID: "e2", ResourceID: "r2", KitID: "k1", Timestamp: at(8, 30), Participants: []string{"r1"}},
	}
	got := DeriveEventRelations(events)
	want := []common.EventRelation{
		{Kind: common.EdgeKindKit, SourceEventID: "e1", TargetEventID: "e2", ScopeID: "k1"},
		{Kind: common.EdgeKindKit, SourceEventID: "e2", TargetEventID: "e3", ScopeID: "k1"},
		{Kind: common.EdgeKindResource, SourceEventID: "e1", TargetEventID: "e2", ScopeID: "r1"},
		{Kind: common.EdgeKindResource, SourceEventID: "e2", TargetEventID: "e3", ScopeID: "r1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DeriveEventRelations() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestBuildKitEdges(t *testing.T) {
	events := []common.Event{
		{ID: "a", KitID: "k1", RunID: "run1", BatchID: 1},
		{ID: "b", KitID: "k1", RunID: "run1", BatchID: 2},
		{ID: "c", KitID: "k1", RunID: "run1", BatchID: 2},
		{ID: "d", KitID: "k2", BatchID: 1},
		{ID: "e", KitID: "k2", BatchID: 3},
		{ID: "f", KitID: "k3", BatchID: 3},
	}
	relations := []common.EventRelation{
		{Kind: common.EdgeKindKit, SourceEventID: "a", TargetEventID: "b", ScopeID: "k1"},
		{Kind: common.EdgeKindKit, SourceEventID: "a", TargetEventID: "c", ScopeID: "k1"},
		{Kind: common.EdgeKindKit, SourceEventID: "b", TargetEventID: "c", ScopeID: "k1"},
		{Kind: common.EdgeKindKit, SourceEventID: "d", TargetEventID: "e", ScopeID: "k2"},
		{Kind: common.EdgeKindKit, SourceEventID: "e", TargetEventID: "f", ScopeID: "k2"},
		{Kind: common.EdgeKindResource, SourceEventID: "a", TargetEventID: "e", ScopeID: "r1"},
	}

	got := BuildKitEdges(events, relations)
	want := []common.KitEdge{
		{Source: 1, Target: 2, KitID: "k1", RunID: "run1"},
		{Source: 1, Target: 3, KitID: "k2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildKitEdges() = %+v, want %+v", got, want)
	}
}

func TestBuildConsecutiveResourceEdges(t *testing.T) {
	batches := []common.Batch{
		{ID: 3, ResourceID: "r1", Users: []string{"r1"}, EarliestTimestamp: at(10, 0)},
		{ID: 1, ResourceID: "r1", Users: []string{"r1"}, EarliestTimestamp: at(8, 0)},
		{ID: 2, ResourceID: "r1", Users: []string{"r1"}, EarliestTimestamp: at(8, 0)},
		{ID: 4, ResourceID: "r2", Users: []string{"r2"}, EarliestTimestamp: at(9, 0)},
	}
	got := BuildConsecutiveResourceEdges(batches)
	want := []common.ResourceEdge{
		{Source: 1, Target: 2, ResourceID: "r1", CreatedOn: day, Count: 1, Order: 1, OutgoingOrder: 1},
		{Source: 2, Target: 3, ResourceID: "r1", CreatedOn: day, Count: 1, Order: 2, OutgoingOrder: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildConsecutiveResourceEdges() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestBuildTransitionResourceEdges(t *testing.T) {
	batches := []common.Batch{
		{ID: 1, ResourceID: "r1", Users: []string{"r1"}, EarliestTimestamp: at(8, 0)},
		{ID: 2, ResourceID: "r1", Users: []string{"r1"}, EarliestTimestamp: at(9, 0)},
		{ID: 3, ResourceID: "r1", Users: []string{"r1"}, EarliestTimestamp: at(10, 0)},
		{ID: 4, ResourceID: "r1", Users: []string{"r1"}, EarliestTimestamp: at(8, 0).Add(24 * time.Hour)},
	}
	events := []common.Event{
		{ID: "a", ResourceID: "r1", BatchID: 1, Timestamp: at(8, 0)},
		{ID: "b", ResourceID: "r1", BatchID: 2, Timestamp: at(9, 0)},
		{ID: "c", ResourceID: "r1", BatchID: 1, Timestamp: at(9, 30)},
		{ID: "d", ResourceID: "r1", BatchID: 2, Timestamp: at(9, 45)},
		{ID: "e", ResourceID: "r1", BatchID: 3, Timestamp: at(10, 0)},
		{ID: "f", ResourceID: "r1", BatchID: 4, Timestamp: at(8, 0).Add(24 * time.Hour)},
	}
	relations := []common.EventRelation{
		{Kind: common.EdgeKindResource, SourceEventID: "a", TargetEventID: "b", ScopeID: "r1"},
		{Kind: common.EdgeKindResource, SourceEventID: "b", TargetEventID: "c", ScopeID: "r1"},
		{Kind: common.EdgeKindResource, SourceEventID: "c", TargetEventID: "d", ScopeID: "r1"},
		{Kind: common.EdgeKindResource, SourceEventID: "d", TargetEventID: "e", ScopeID: "r1"},
		{Kind: common.EdgeKindResource, SourceEventID: "e", TargetEventID: "f", ScopeID: "r1"},
	}

	got := BuildTransitionResourceEdges(events, batches, relations)
	want := []common.ResourceEdge{
		{Source: 1, Target: 2, ResourceID: "r1", CreatedOn: day, Count: 2, Order: 1, OutgoingOrder: 1},
		{Source: 2, Target: 1, ResourceID: "r1", CreatedOn: day, Count: 1, Order: 2, OutgoingOrder: 1},
		{Source: 2, Target: 3, ResourceID: "r1", CreatedOn: day, Count: 1, Order: 3, OutgoingOrder: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildTransitionResourceEdges() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestParseResourceEdgeMode(t *testing.T) {
	if m, err := ParseResourceEdgeMode(""); err != nil || m != ModeTransitions {
		t.Fatalf("empty mode: got %q, %v", m, err)
	}
	if m, err := ParseResourceEdgeMode("consecutive"); err != nil || m != ModeConsecutive {
		t.Fatalf("consecutive mode: got %q, %v", m, err)
	}
	if _, err := ParseResourceEdgeMode("sideways"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
