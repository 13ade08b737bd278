package highlevel

import (
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func batch(id int64, activity string, hour int, users ...string) common.Batch {
	if len(users) == 0 {
		users = []string{"r1"}
	}
	start := day.Add(time.Duration(hour) * time.Hour)
	return common.Batch{
		ID:                id,
		Activity:          activity,
		ResourceID:        users[0],
		Users:             users,
		EventCount:        1,
		KitCount:          1,
		EarliestTimestamp: start,
		LatestTimestamp:   start.Add(10 * time.Minute),
	}
}

func redge(source, target int64, order int) common.ResourceEdge {
	return common.ResourceEdge{
		Source:        source,
		Target:        target,
		ResourceID:    "r1",
		CreatedOn:     day,
		Count:         1,
		Order:         order,
		OutgoingOrder: 1,
	}
}

func batchSets(g common.HighLevelGraph) map[int64][]int64 {
	out := make(map[int64][]int64, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n.BatchIDs
	}
	return out
}

func assertDisjoint(t *testing.T, g common.HighLevelGraph) {
	t.Helper()
	owner := make(map[int64]int64)
	for _, n := range g.Nodes {
		for _, b := range n.BatchIDs {
			if prev, ok := owner[b]; ok {
				t.Fatalf("batch %d is in nodes %d and %d", b, prev, n.ID)
			}
			owner[b] = n.ID
		}
	}
}

func assertNoMutualEdges(t *testing.T, g common.HighLevelGraph) {
	t.Helper()
	seen := make(map[[2]int64]struct{})
	for _, e := range g.Edges {
		seen[[2]int64{e.Source, e.Target}] = struct{}{}
	}
	for _, e := range g.Edges {
		if _, ok := seen[[2]int64{e.Target, e.Source}]; ok {
			t.Fatalf("nodes %d and %d are linked both ways", e.Source, e.Target)
		}
	}
}

func TestConsolidate_MutualPairAndOneWayEdge(t *testing.T) {
	in := Input{
		Batches: []common.Batch{
			batch(1, "pick", 8),
			batch(2, "pack", 9),
			batch(3, "ship", 10),
		},
		Edges: []common.ResourceEdge{
			redge(1, 2, 1),
			redge(2, 1, 2),
			redge(2, 3, 3),
		},
		Events: []common.Event{
			{ID: "e1", ResourceID: "r1", BatchID: 1, Timestamp: day.Add(8 * time.Hour)},
			{ID: "e2", ResourceID: "r1", BatchID: 2, Timestamp: day.Add(9 * time.Hour)},
			{ID: "e3", ResourceID: "r1", BatchID: 3, Timestamp: day.Add(10 * time.Hour)},
			{ID: "other", ResourceID: "r2", BatchID: 3, Timestamp: day.Add(11 * time.Hour)},
		},
	}

	g, rep := New().Consolidate("r1", in)

	want := []common.HighLevelBatch{
		{
			ID:             1,
			ResourceID:     "r1",
			CreatedOn:      day,
			BatchIDs:       []int64{1, 2},
			Activities:     []string{"pack", "pick"},
			EventIDs:       []string{"e1", "e2"},
			StartTimestamp: day.Add(8 * time.Hour),
			EndTimestamp:   day.Add(9 * time.Hour),
			EventCount:     2,
		},
		{
			ID:             2,
			ResourceID:     "r1",
			CreatedOn:      day,
			BatchIDs:       []int64{3},
			Activities:     []string{"ship"},
			EventIDs:       []string{"e3"},
			StartTimestamp: day.Add(10 * time.Hour),
			EndTimestamp:   day.Add(10 * time.Hour),
			EventCount:     1,
		},
	}
	if !reflect.DeepEqual(g.Nodes, want) {
		t.Fatalf("nodes =\n%+v\nwant\n%+v", g.Nodes, want)
	}
	wantEdges := []common.HighLevelEdge{{Source: 1, Target: 2, ResourceID: "r1", Count: 1, Order: 3}}
	if !reflect.DeepEqual(g.Edges, wantEdges) {
		t.Fatalf("edges = %+v, want %+v", g.Edges, wantEdges)
	}
	if rep.Created != 1 || rep.Singletons != 1 || rep.Skipped != 1 || rep.CyclesResolved != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestConsolidate_OneWayEdgeFirst(t *testing.T) {
	in := Input{
		Batches: []common.Batch{batch(1, "pick", 8), batch(2, "pack", 9), batch(3, "ship", 10)},
		Edges:   []common.ResourceEdge{redge(2, 3, 1), redge(1, 2, 2), redge(2, 1, 3)},
	}

	g, _ := New().Consolidate("r1", in)

	want := map[int64][]int64{1: {1, 2}, 2: {3}}
	if got := batchSets(g); !reflect.DeepEqual(got, want) {
		t.Fatalf("batch sets = %v, want %v", got, want)
	}
	if len(g.Edges) != 1 || g.Edges[0].Source != 1 || g.Edges[0].Target != 2 {
		t.Fatalf("unexpected edges %+v", g.Edges)
	}
}

func TestConsolidate_LoneBatchOfDay(t *testing.T) {
	in := Input{
		Batches: []common.Batch{
			batch(1, "pick", 8),
			batch(2, "pick", 8+24),
			batch(3, "pack", 9+24),
		},
	}

	g, rep := New().Consolidate("r1", in)

	if len(g.Nodes) != 1 {
		t.Fatalf("expected one node, got %+v", g.Nodes)
	}
	n := g.Nodes[0]
	if !reflect.DeepEqual(n.BatchIDs, []int64{1}) || !n.CreatedOn.Equal(day) {
		t.Fatalf("unexpected node %+v", n)
	}
	if n.EventCount != 0 || !n.StartTimestamp.Equal(day.Add(8*time.Hour)) {
		t.Fatalf("expected batch bounds without events, got %+v", n)
	}
	if rep.Singletons != 1 || len(g.Edges) != 0 {
		t.Fatalf("unexpected result %+v %+v", rep, g.Edges)
	}
}

func TestConsolidate_CycleKeepsNodeWithEarlierInboundEdge(t *testing.T) {
	in := Input{
		Batches: []common.Batch{batch(1, "pick", 8), batch(2, "pack", 9), batch(3, "ship", 10)},
		Edges: []common.ResourceEdge{
			redge(1, 2, 1),
			redge(2, 1, 2),
			redge(3, 1, 3),
			redge(2, 3, 4),
		},
	}

	g, rep := New().Consolidate("r1", in)

	want := map[int64][]int64{1: {1, 2, 3}}
	if got := batchSets(g); !reflect.DeepEqual(got, want) {
		t.Fatalf("batch sets = %v, want %v", got, want)
	}
	if len(g.Edges) != 0 || rep.CyclesResolved != 1 {
		t.Fatalf("unexpected result %+v %+v", g.Edges, rep)
	}
}

func TestConsolidate_CycleKeepsNodeLeadingElsewhere(t *testing.T) {
	in := Input{
		Batches: []common.Batch{
			batch(1, "pick", 8),
			batch(2, "pack", 9),
			batch(3, "ship", 10),
			batch(4, "load", 11),
		},
		Edges: []common.ResourceEdge{
			redge(1, 2, 1),
			redge(2, 1, 2),
			redge(3, 1, 3),
			redge(2, 3, 4),
			redge(3, 4, 5),
		},
	}

	g, rep := New().Consolidate("r1", in)

	want := map[int64][]int64{2: {1, 2, 3}, 3: {4}}
	if got := batchSets(g); !reflect.DeepEqual(got, want) {
		t.Fatalf("batch sets = %v, want %v", got, want)
	}
	wantEdges := []common.HighLevelEdge{{Source: 2, Target: 3, ResourceID: "r1", Count: 1, Order: 5}}
	if !reflect.DeepEqual(g.Edges, wantEdges) {
		t.Fatalf("edges = %+v, want %+v", g.Edges, wantEdges)
	}
	if rep.CyclesResolved != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestConsolidate_RepeatedEdgesAddCounts(t *testing.T) {
	in := Input{
		Batches: []common.Batch{
			batch(1, "pick", 8),
			batch(2, "pack", 9),
			batch(3, "ship", 10),
			batch(4, "ship", 11),
		},
		Edges: []common.ResourceEdge{
			redge(1, 2, 1),
			redge(2, 1, 2),
			redge(1, 3, 3),
			redge(3, 4, 4),
			redge(4, 3, 5),
			{Source: 2, Target: 4, ResourceID: "r1", CreatedOn: day, Count: 3, Order: 6},
		},
	}

	g, _ := New().Consolidate("r1", in)

	want := map[int64][]int64{1: {1, 2}, 2: {3, 4}}
	if got := batchSets(g); !reflect.DeepEqual(got, want) {
		t.Fatalf("batch sets = %v, want %v", got, want)
	}
	wantEdges := []common.HighLevelEdge{{Source: 1, Target: 2, ResourceID: "r1", Count: 4, Order: 3}}
	if !reflect.DeepEqual(g.Edges, wantEdges) {
		t.Fatalf("edges = %+v, want %+v", g.Edges, wantEdges)
	}
}

func TestConsolidate_WorkTogether(t *testing.T) {
	in := Input{
		Batches: []common.Batch{batch(1, "pick", 8, "r1", "r2"), batch(2, "pick", 8+24)},
	}
	g, _ := New().Consolidate("r1", in)
	if len(g.Nodes) != 2 {
		t.Fatalf("expected two singleton nodes, got %+v", g.Nodes)
	}
	if !g.Nodes[0].WorkTogether || g.Nodes[1].WorkTogether {
		t.Fatalf("unexpected work together flags %+v", g.Nodes)
	}
}

func TestConsolidate_IgnoresOtherResources(t *testing.T) {
	in := Input{
		Batches: []common.Batch{batch(1, "pick", 8), batch(2, "pick", 9, "r2")},
		Edges: []common.ResourceEdge{
			{Source: 1, Target: 2, ResourceID: "r2", CreatedOn: day, Count: 1, Order: 1},
		},
	}
	g, _ := New().Consolidate("r1", in)
	want := map[int64][]int64{1: {1}}
	if got := batchSets(g); !reflect.DeepEqual(got, want) {
		t.Fatalf("batch sets = %v, want %v", got, want)
	}
}

func TestConsolidate_IdempotentWhenSeeded(t *testing.T) {
	in := Input{
		Batches: []common.Batch{
			batch(1, "pick", 8),
			batch(2, "pack", 9),
			batch(3, "ship", 10),
			batch(4, "load", 11),
			batch(5, "load", 8+24),
		},
		Edges: []common.ResourceEdge{
			redge(1, 2, 1),
			redge(2, 1, 2),
			redge(3, 1, 3),
			redge(2, 3, 4),
			redge(3, 4, 5),
		},
	}

	first, _ := New().Consolidate("r1", in)
	assertDisjoint(t, first)
	assertNoMutualEdges(t, first)

	in.Existing = first.Nodes
	second, rep := New().Consolidate("r1", in)

	if !reflect.DeepEqual(batchSets(first), batchSets(second)) {
		t.Fatalf("node sets changed: %v -> %v", batchSets(first), batchSets(second))
	}
	if !reflect.DeepEqual(first.Edges, second.Edges) {
		t.Fatalf("edges changed: %+v -> %+v", first.Edges, second.Edges)
	}
	if rep.Reused != len(first.Nodes) {
		t.Fatalf("expected every id to be reused, got %+v", rep)
	}
}

func TestConsolidate_RebuildsStaleJointNode(t *testing.T) {
	in := Input{
		Batches: []common.Batch{batch(1, "pick", 8), batch(2, "pack", 9), batch(3, "ship", 10)},
		Edges:   []common.ResourceEdge{redge(1, 2, 1), redge(2, 3, 2)},
	}
	fresh, _ := New().Consolidate("r1", in)

	// 1 and 2 were joined by a mutual edge that no longer exists.
	in.Existing = []common.HighLevelBatch{{ID: 1, ResourceID: "r1", CreatedOn: day, BatchIDs: []int64{1, 2}}}
	g, rep := New().Consolidate("r1", in)

	want := map[int64][]int64{1: {1}, 2: {2}, 3: {3}}
	if got := batchSets(fresh); !reflect.DeepEqual(got, want) {
		t.Fatalf("fresh batch sets = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(g, fresh) {
		t.Fatalf("rerun =\n%+v\nwant\n%+v", g, fresh)
	}
	if rep.Reused != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestConsolidate_ReusesIDsOfUnchangedNodes(t *testing.T) {
	in := Input{
		Batches: []common.Batch{batch(1, "pick", 8), batch(2, "pack", 9), batch(3, "ship", 10)},
		Edges:   []common.ResourceEdge{redge(1, 2, 1), redge(2, 1, 2), redge(2, 3, 3)},
		Existing: []common.HighLevelBatch{
			{ID: 2, ResourceID: "r1", CreatedOn: day, BatchIDs: []int64{2, 1}},
			{ID: 5, ResourceID: "r2", CreatedOn: day, BatchIDs: []int64{3}},
			{ID: 6, ResourceID: "r1", CreatedOn: day.Add(24 * time.Hour), BatchIDs: []int64{3}},
			{ID: 11, ResourceID: "r1", CreatedOn: day, BatchIDs: []int64{99}},
		},
	}

	g, rep := New().Consolidate("r1", in)

	want := map[int64][]int64{2: {1, 2}, 3: {3}}
	if got := batchSets(g); !reflect.DeepEqual(got, want) {
		t.Fatalf("batch sets = %v, want %v", got, want)
	}
	wantEdges := []common.HighLevelEdge{{Source: 2, Target: 3, ResourceID: "r1", Count: 1, Order: 3}}
	if !reflect.DeepEqual(g.Edges, wantEdges) {
		t.Fatalf("edges = %+v, want %+v", g.Edges, wantEdges)
	}
	if rep.Reused != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestConsolidate_TerminatesOnDenseGraph(t *testing.T) {
	var batches []common.Batch
	var edges []common.ResourceEdge
	order := 1
	for i := int64(1); i <= 8; i++ {
		batches = append(batches, batch(i, "a", int(i)))
	}
	for i := int64(1); i <= 8; i++ {
		for j := int64(1); j <= 8; j++ {
			if i != j && (i+j)%3 != 0 {
				edges = append(edges, redge(i, j, order))
				order++
			}
		}
	}

	g, _ := New().Consolidate("r1", Input{Batches: batches, Edges: edges})
	assertDisjoint(t, g)
	assertNoMutualEdges(t, g)
}
