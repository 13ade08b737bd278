// Package memory is an in-process store.GraphRepository. It backs the CLI
// when no database is configured and the pipeline tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"
)

type relationKey struct {
	kind           common.EdgeKind
	source, target string
	scope          string
}

type Repository struct {
	mu        sync.RWMutex
	events    map[string]common.Event
	relations map[relationKey]common.EventRelation
	batches   []common.Batch
	kitEdges  []common.KitEdge
	resEdges  []common.ResourceEdge
	graphs    map[string]common.HighLevelGraph
}

var _ store.GraphRepository = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		events:    make(map[string]common.Event),
		relations: make(map[relationKey]common.EventRelation),
		graphs:    make(map[string]common.HighLevelGraph),
	}
}

func copyEvent(e common.Event) common.Event {
	e.Participants = slices.Clone(e.Participants)
	return e
}

func copyBatch(b common.Batch) common.Batch {
	b.KitIDs = slices.Clone(b.KitIDs)
	b.RunIDs = slices.Clone(b.RunIDs)
	b.Users = slices.Clone(b.Users)
	return b
}

func copyHighLevelBatch(n common.HighLevelBatch) common.HighLevelBatch {
	n.BatchIDs = slices.Clone(n.BatchIDs)
	n.Activities = slices.Clone(n.Activities)
	n.EventIDs = slices.Clone(n.EventIDs)
	return n
}

func sortEvents(events []common.Event) {
	sort.Slice(events, func(i, j int) bool {
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

func (r *Repository) ListCorrelatedEvents(ctx context.Context) ([]common.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Event, 0, len(r.events))
	for _, e := range r.events {
		if e.ResourceID != "" {
			out = append(out, copyEvent(e))
		}
	}
	sortEvents(out)
	return out, nil
}

func (r *Repository) ListEventRelations(ctx context.Context, kind common.EdgeKind) ([]common.EventRelation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.EventRelation, 0)
	for _, rel := range r.relations {
		if rel.Kind == kind {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ScopeID != b.ScopeID {
			return a.ScopeID < b.ScopeID
		}
		if a.SourceEventID != b.SourceEventID {
			return a.SourceEventID < b.SourceEventID
		}
		return a.TargetEventID < b.TargetEventID
	})
	return out, nil
}

// SaveEvents upserts events and keeps the batch of events already known.
func (r *Repository) SaveEvents(ctx context.Context, events []common.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		e = copyEvent(e)
		e.BatchID = r.events[e.ID].BatchID
		r.events[e.ID] = e
	}
	return nil
}

func (r *Repository) SaveEventRelations(ctx context.Context, relations []common.EventRelation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rel := range relations {
		r.relations[relationKey{rel.Kind, rel.SourceEventID, rel.TargetEventID, rel.ScopeID}] = rel
	}
	return nil
}

func (r *Repository) AssignEventBatches(ctx context.Context, assignments []common.BatchAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.events {
		e.BatchID = 0
		r.events[id] = e
	}
	for _, a := range assignments {
		if e, ok := r.events[a.EventID]; ok {
			e.BatchID = a.BatchID
			r.events[a.EventID] = e
		}
	}
	return nil
}

func (r *Repository) ListEventsForBatches(ctx context.Context, batchIDs []int64) ([]common.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(batchIDs))
	for _, id := range batchIDs {
		wanted[id] = struct{}{}
	}
	out := make([]common.Event, 0)
	for _, e := range r.events {
		if _, ok := wanted[e.BatchID]; ok && e.BatchID != 0 {
			out = append(out, copyEvent(e))
		}
	}
	sortEvents(out)
	return out, nil
}

// ReplaceBatches also drops the batch edges, which refer to the old batches.
func (r *Repository) ReplaceBatches(ctx context.Context, batches []common.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches = make([]common.Batch, 0, len(batches))
	for _, b := range batches {
		r.batches = append(r.batches, copyBatch(b))
	}
	sort.SliceStable(r.batches, func(i, j int) bool {
		a, b := r.batches[i], r.batches[j]
		if !a.EarliestTimestamp.Equal(b.EarliestTimestamp) {
			return a.EarliestTimestamp.Before(b.EarliestTimestamp)
		}
		return a.ID < b.ID
	})
	r.kitEdges = nil
	r.resEdges = nil
	return nil
}

func (r *Repository) ListBatches(ctx context.Context, filter store.BatchFilter) ([]common.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := store.FilterBatches(r.batches, filter)
	for i := range out {
		out[i] = copyBatch(out[i])
	}
	return out, nil
}

func (r *Repository) ListResources(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]string, 0, len(r.batches))
	for _, b := range r.batches {
		all = append(all, b.ResourceID)
		all = append(all, b.Users...)
	}
	return common.SortedStrings(all), nil
}

func (r *Repository) ReplaceKitEdges(ctx context.Context, edges []common.KitEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kitEdges = slices.Clone(edges)
	return nil
}

func (r *Repository) ReplaceResourceEdges(ctx context.Context, edges []common.ResourceEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resEdges = slices.Clone(edges)
	return nil
}

func (r *Repository) ListKitEdges(ctx context.Context, batchID int64) ([]common.KitEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.KitEdge, 0)
	for _, e := range r.kitEdges {
		if e.Source == batchID || e.Target == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Repository) ListResourceEdges(ctx context.Context, filter store.ResourceEdgeFilter) ([]common.ResourceEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return store.FilterResourceEdges(r.resEdges, filter), nil
}

func (r *Repository) ListHighLevelBatches(ctx context.Context, filter store.HighLevelFilter) ([]common.HighLevelBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.HighLevelBatch, 0)
	for _, id := range r.graphResources(filter.ResourceID) {
		for _, n := range r.graphs[id].Nodes {
			if store.MatchesDay(filter.Date, n.CreatedOn) {
				out = append(out, copyHighLevelBatch(n))
			}
		}
	}
	return out, nil
}

func (r *Repository) ListHighLevelEdges(ctx context.Context, filter store.HighLevelFilter) ([]common.HighLevelEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.HighLevelEdge, 0)
	for _, id := range r.graphResources(filter.ResourceID) {
		g := r.graphs[id]
		created := make(map[int64]common.HighLevelBatch, len(g.Nodes))
		for _, n := range g.Nodes {
			created[n.ID] = n
		}
		for _, e := range g.Edges {
			if store.MatchesDay(filter.Date, created[e.Source].CreatedOn) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (r *Repository) ReplaceHighLevelGraph(ctx context.Context, resourceID string, graph common.HighLevelGraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := common.HighLevelGraph{
		ResourceID: resourceID,
		Nodes:      make([]common.HighLevelBatch, 0, len(graph.Nodes)),
		Edges:      slices.Clone(graph.Edges),
	}
	for _, n := range graph.Nodes {
		g.Nodes = append(g.Nodes, copyHighLevelBatch(n))
	}
	r.graphs[resourceID] = g
	return nil
}

func (r *Repository) graphResources(resourceID string) []string {
	if resourceID != "" {
		return []string{resourceID}
	}
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
