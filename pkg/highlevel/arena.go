package highlevel

import (
	"sort"
	"time"
)

type node struct {
	id      int64
	date    time.Time
	batches map[int64]struct{}
	dead    bool
}

func (n *node) has(batchID int64) bool {
	_, ok := n.batches[batchID]
	return ok
}

func (n *node) batchIDs() []int64 {
	out := make([]int64, 0, len(n.batches))
	for id := range n.batches {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// arena owns the high level nodes of one resource while they are consolidated.
// Merged nodes are tombstoned and recorded in redirect, so every id handed out
// once keeps resolving to the live node that absorbed it.
type arena struct {
	resource string
	nodes    map[int64]*node
	redirect map[int64]int64
	// owners lists every node a batch was ever placed in. Resolving those ids
	// through redirect yields the live owners.
	owners map[int64][]int64
	nextID int64
}

func newArena(resource string) *arena {
	return &arena{
		resource: resource,
		nodes:    make(map[int64]*node),
		redirect: make(map[int64]int64),
		owners:   make(map[int64][]int64),
		nextID:   1,
	}
}

func (a *arena) create(date time.Time, batchIDs ...int64) *node {
	n := &node{id: a.nextID, date: date, batches: make(map[int64]struct{}, len(batchIDs))}
	a.nextID++
	a.nodes[n.id] = n
	for _, b := range batchIDs {
		a.add(n, b)
	}
	return n
}

func (a *arena) add(n *node, batchID int64) {
	if n.has(batchID) {
		return
	}
	n.batches[batchID] = struct{}{}
	a.owners[batchID] = append(a.owners[batchID], n.id)
}

// merge moves every batch of drop into keep and tombstones drop.
func (a *arena) merge(keep, drop *node) {
	if keep == drop || drop.dead {
		return
	}
	for b := range drop.batches {
		keep.batches[b] = struct{}{}
	}
	drop.batches = nil
	drop.dead = true
	a.redirect[drop.id] = keep.id
}

// resolve follows the redirect table to the live node and compresses the path.
func (a *arena) resolve(id int64) int64 {
	root := id
	for {
		next, ok := a.redirect[root]
		if !ok {
			break
		}
		root = next
	}
	for id != root {
		next := a.redirect[id]
		a.redirect[id] = root
		id = next
	}
	return root
}

// ownersOf returns the live nodes holding any of the batches, lowest id first.
func (a *arena) ownersOf(batchIDs ...int64) []*node {
	seen := make(map[int64]struct{})
	out := make([]*node, 0, 2)
	for _, b := range batchIDs {
		for _, id := range a.owners[b] {
			root := a.resolve(id)
			if _, ok := seen[root]; ok {
				continue
			}
			seen[root] = struct{}{}
			if n := a.nodes[root]; n != nil && n.has(b) {
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// nodeOf returns the lowest live node holding the batch, or nil.
func (a *arena) nodeOf(batchID int64) *node {
	owners := a.ownersOf(batchID)
	if len(owners) == 0 {
		return nil
	}
	return owners[0]
}

func (a *arena) live() []*node {
	out := make([]*node, 0, len(a.nodes))
	for _, n := range a.nodes {
		if !n.dead {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
