// Package highlevel consolidates batch level directly-follows graphs of one
// resource into high level batches: windows of batches the resource worked on
// back and forth, connected by their own directly-follows edges.
package highlevel

import (
	"fmt"
	"sort"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
)

// Input is everything the consolidator needs to know about one resource.
type Input struct {
	// Batches the resource contributed to.
	Batches []common.Batch
	// Edges are the resource scoped batch edges. Edges of other resources are
	// ignored.
	Edges []common.ResourceEdge
	// Events of the batches. Only events recorded for the resource are wired
	// to the high level batches.
	Events []common.Event
	// Existing is the previously persisted high level graph of the resource.
	// Only its node ids are reused; membership is always rebuilt.
	Existing []common.HighLevelBatch
}

// Report counts what a consolidation did.
type Report struct {
	Created        int `json:"created"`
	Merged         int `json:"merged"`
	Deduplicated   int `json:"deduplicated"`
	CyclesResolved int `json:"cycles_resolved"`
	Singletons     int `json:"singletons"`
	Skipped        int `json:"skipped"`
	Reused         int `json:"reused"`
}

// Add accumulates o into r.
func (r *Report) Add(o Report) {
	r.Created += o.Created
	r.Merged += o.Merged
	r.Deduplicated += o.Deduplicated
	r.CyclesResolved += o.CyclesResolved
	r.Singletons += o.Singletons
	r.Skipped += o.Skipped
	r.Reused += o.Reused
}

type Consolidator struct {
	maxCycleRounds int
}

type Option func(*Consolidator)

// WithMaxCycleRounds bounds the number of two-cycle resolution rounds. Zero
// means no bound; every round removes at least one node so the loop ends on
// its own.
func WithMaxCycleRounds(n int) Option {
	return func(c *Consolidator) {
		c.maxCycleRounds = n
	}
}

func New(opts ...Option) *Consolidator {
	c := &Consolidator{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pair struct {
	source, target int64
}

// Consolidate builds the high level graph of resourceID from scratch. The
// result replaces whatever graph the resource had before; a node keeps the id
// of the Input.Existing node with the same day and batch set.
func (c *Consolidator) Consolidate(resourceID string, in Input) (common.HighLevelGraph, Report) {
	var rep Report

	batches := make(map[int64]common.Batch, len(in.Batches))
	for _, b := range in.Batches {
		if usedBy(b, resourceID) {
			batches[b.ID] = b
		}
	}
	known := func(id int64) bool {
		_, ok := batches[id]
		return ok
	}

	a := newArena(resourceID)

	edges := make([]common.ResourceEdge, 0, len(in.Edges))
	for _, e := range in.Edges {
		if e.ResourceID != resourceID || e.Source == e.Target {
			continue
		}
		if !known(e.Source) || !known(e.Target) {
			rep.Skipped++
			continue
		}
		edges = append(edges, e)
	}
	sortByOrder(edges)

	c.pairwise(a, edges, batches, &rep)
	c.singletons(a, batches, &rep)
	c.dedupe(a, &rep)
	lifted, keys := c.resolveCycles(a, edges, &rep)

	graph := common.HighLevelGraph{
		ResourceID: resourceID,
		Nodes:      finalize(a, batches, in.Events),
		Edges:      make([]common.HighLevelEdge, 0, len(keys)),
	}
	for _, k := range keys {
		graph.Edges = append(graph.Edges, *lifted[k])
	}
	rep.Reused = carryIDs(&graph, in.Existing)

	logger.Debug("[HighLevel] Consolidated resource",
		"resource", resourceID,
		"nodes", len(graph.Nodes),
		"edges", len(graph.Edges),
		"created", rep.Created,
		"merged", rep.Merged,
		"cycles", rep.CyclesResolved,
		"reused", rep.Reused,
	)
	return graph, rep
}

func nodeKey(date time.Time, batchIDs []int64) string {
	return fmt.Sprintf("%s|%v", common.DayOf(date).Format(time.DateOnly), common.SortedIDs(batchIDs))
}

// carryIDs renumbers g so that a node equal in day and batch set to a node of
// the previous graph gets that node's id back. Other nodes keep their own id
// unless it is taken, in which case they get a fresh one above all ids in use.
// It returns the number of ids taken over.
func carryIDs(g *common.HighLevelGraph, existing []common.HighLevelBatch) int {
	prev := make(map[string]int64, len(existing))
	for _, n := range existing {
		if n.ResourceID != "" && n.ResourceID != g.ResourceID {
			continue
		}
		k := nodeKey(n.CreatedOn, n.BatchIDs)
		if id, ok := prev[k]; !ok || n.ID < id {
			prev[k] = n.ID
		}
	}

	ids := make(map[int64]int64, len(g.Nodes))
	used := make(map[int64]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if id, ok := prev[nodeKey(n.CreatedOn, n.BatchIDs)]; ok {
			ids[n.ID] = id
			used[id] = struct{}{}
		}
	}
	reused := len(ids)

	var conflicts []int64
	for _, n := range g.Nodes {
		if _, ok := ids[n.ID]; ok {
			continue
		}
		if _, taken := used[n.ID]; taken {
			conflicts = append(conflicts, n.ID)
			continue
		}
		ids[n.ID] = n.ID
		used[n.ID] = struct{}{}
	}
	var next int64
	for id := range used {
		next = max(next, id)
	}
	for _, id := range conflicts {
		next++
		ids[id] = next
	}

	for i := range g.Nodes {
		g.Nodes[i].ID = ids[g.Nodes[i].ID]
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	for i := range g.Edges {
		g.Edges[i].Source = ids[g.Edges[i].Source]
		g.Edges[i].Target = ids[g.Edges[i].Target]
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		x, y := g.Edges[i], g.Edges[j]
		if x.Source != y.Source {
			return x.Source < y.Source
		}
		return x.Target < y.Target
	})
	return reused
}

// pairwise groups the endpoints of mutual batch edges into joint nodes and
// gives the endpoints of one-way edges their own node.
func (c *Consolidator) pairwise(a *arena, edges []common.ResourceEdge, batches map[int64]common.Batch, rep *Report) {
	present := make(map[pair]struct{}, len(edges))
	for _, e := range edges {
		present[pair{e.Source, e.Target}] = struct{}{}
	}

	for _, e := range edges {
		if _, mutual := present[pair{e.Target, e.Source}]; !mutual {
			for _, b := range []int64{e.Source, e.Target} {
				if len(a.ownersOf(b)) == 0 {
					a.create(batches[b].Day(), b)
					rep.Singletons++
				}
			}
			continue
		}

		owners := a.ownersOf(e.Source, e.Target)
		if holdsBoth(owners, e.Source, e.Target) {
			rep.Skipped++
			continue
		}
		if len(owners) == 0 {
			a.create(common.DayOf(e.CreatedOn), e.Source, e.Target)
			rep.Created++
			continue
		}
		keep := owners[0]
		for _, n := range owners[1:] {
			a.merge(keep, n)
			rep.Merged++
		}
		a.add(keep, e.Source)
		a.add(keep, e.Target)
	}
}

// singletons gives a node to the batch of every day on which the resource
// worked on exactly one batch.
func (c *Consolidator) singletons(a *arena, batches map[int64]common.Batch, rep *Report) {
	byDay := make(map[time.Time][]int64)
	for id, b := range batches {
		byDay[b.Day()] = append(byDay[b.Day()], id)
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	for _, d := range days {
		ids := byDay[d]
		if len(ids) != 1 || a.nodeOf(ids[0]) != nil {
			continue
		}
		a.create(d, ids[0])
		rep.Singletons++
	}
}

// dedupe collapses nodes with the same day and batch set into the lowest id,
// then merges whatever still shares a batch so every batch ends up in at most
// one node.
func (c *Consolidator) dedupe(a *arena, rep *Report) {
	seen := make(map[string]*node)
	for _, n := range a.live() {
		key := fmt.Sprintf("%s|%s|%v", a.resource, n.date.Format(time.DateOnly), n.batchIDs())
		if first, ok := seen[key]; ok {
			a.merge(first, n)
			rep.Deduplicated++
			continue
		}
		seen[key] = n
	}

	for _, n := range a.live() {
		if n.dead {
			continue
		}
		for _, b := range n.batchIDs() {
			owners := a.ownersOf(b)
			for _, o := range owners[1:] {
				a.merge(owners[0], o)
				rep.Merged++
			}
		}
	}
}

// lift maps batch edges onto the live nodes. The first batch edge between two
// nodes fixes Count and Order, later ones add to Count.
func lift(a *arena, edges []common.ResourceEdge) (map[pair]*common.HighLevelEdge, []pair) {
	out := make(map[pair]*common.HighLevelEdge)
	keys := make([]pair, 0)
	for _, e := range edges {
		s, t := a.nodeOf(e.Source), a.nodeOf(e.Target)
		if s == nil || t == nil || s == t {
			continue
		}
		k := pair{s.id, t.id}
		if hl, ok := out[k]; ok {
			hl.Count += e.Count
			continue
		}
		out[k] = &common.HighLevelEdge{
			Source:     s.id,
			Target:     t.id,
			ResourceID: a.resource,
			Count:      e.Count,
			Order:      e.Order,
		}
		keys = append(keys, k)
	}
	return out, keys
}

func finalize(a *arena, batches map[int64]common.Batch, events []common.Event) []common.HighLevelBatch {
	byBatch := make(map[int64][]common.Event)
	for _, e := range events {
		if e.BatchID != 0 && e.ResourceID == a.resource {
			byBatch[e.BatchID] = append(byBatch[e.BatchID], e)
		}
	}

	live := a.live()
	out := make([]common.HighLevelBatch, 0, len(live))
	for _, n := range live {
		hlb := common.HighLevelBatch{
			ID:         n.id,
			ResourceID: a.resource,
			CreatedOn:  n.date,
			BatchIDs:   n.batchIDs(),
		}

		var activities, eventIDs []string
		var start, end, batchStart, batchEnd time.Time
		for _, id := range hlb.BatchIDs {
			b := batches[id]
			activities = append(activities, b.Activity)
			for _, u := range b.Users {
				if u != a.resource {
					hlb.WorkTogether = true
				}
			}
			batchStart = earlier(batchStart, b.EarliestTimestamp)
			batchEnd = later(batchEnd, b.LatestTimestamp)
			for _, e := range byBatch[id] {
				eventIDs = append(eventIDs, e.ID)
				start = earlier(start, e.Timestamp)
				end = later(end, e.Timestamp)
			}
		}

		hlb.Activities = common.SortedStrings(activities)
		hlb.EventIDs = common.SortedStrings(eventIDs)
		hlb.EventCount = len(hlb.EventIDs)
		if hlb.EventCount == 0 {
			start, end = batchStart, batchEnd
		}
		hlb.StartTimestamp = start
		hlb.EndTimestamp = end
		out = append(out, hlb)
	}
	return out
}

func usedBy(b common.Batch, resourceID string) bool {
	if len(b.Users) == 0 {
		return b.ResourceID == resourceID
	}
	return b.HasUser(resourceID)
}

func holdsBoth(nodes []*node, x, y int64) bool {
	for _, n := range nodes {
		if n.has(x) && n.has(y) {
			return true
		}
	}
	return false
}

func sortByOrder(edges []common.ResourceEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		x, y := edges[i], edges[j]
		if x.Order != y.Order {
			return x.Order < y.Order
		}
		if !x.CreatedOn.Equal(y.CreatedOn) {
			return x.CreatedOn.Before(y.CreatedOn)
		}
		if x.Source != y.Source {
			return x.Source < y.Source
		}
		return x.Target < y.Target
	})
}

func earlier(cur, t time.Time) time.Time {
	if cur.IsZero() || t.Before(cur) {
		return t
	}
	return cur
}

func later(cur, t time.Time) time.Time {
	if cur.IsZero() || t.After(cur) {
		return t
	}
	return cur
}
