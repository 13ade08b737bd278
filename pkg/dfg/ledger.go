package dfg

import (
	"sort"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

type resourceDay struct {
	resource string
	day      time.Time
}

type sourceDay struct {
	source int64
	resourceDay
}

type resourceEdgeKey struct {
	source, target int64
	resourceDay
}

// ResourceEdgeLedger merges resource scoped batch transitions into edges.
//
// The first observation of an edge fixes its Order (rank among edges of the
// same resource and day) and OutgoingOrder (rank among edges leaving the same
// source batch on that resource and day). Later observations only add to
// Count. Feeding the same observations in the same sequence always yields the
// same ledger.
type ResourceEdgeLedger struct {
	edges    map[resourceEdgeKey]*common.ResourceEdge
	created  map[resourceDay]int
	outgoing map[sourceDay]int
	seq      []resourceEdgeKey
}

func NewResourceEdgeLedger() *ResourceEdgeLedger {
	return &ResourceEdgeLedger{
		edges:    make(map[resourceEdgeKey]*common.ResourceEdge),
		created:  make(map[resourceDay]int),
		outgoing: make(map[sourceDay]int),
	}
}

// Observe records count transitions from source to target for the resource on
// the given day and reports whether a new edge was created.
func (l *ResourceEdgeLedger) Observe(source, target int64, resource string, day time.Time, count int) bool {
	rd := resourceDay{resource: resource, day: common.DayOf(day)}
	key := resourceEdgeKey{source: source, target: target, resourceDay: rd}
	if e, ok := l.edges[key]; ok {
		e.Count += count
		return false
	}

	sd := sourceDay{source: source, resourceDay: rd}
	l.created[rd]++
	l.outgoing[sd]++
	l.edges[key] = &common.ResourceEdge{
		Source:        source,
		Target:        target,
		ResourceID:    resource,
		CreatedOn:     rd.day,
		Count:         count,
		Order:         l.created[rd],
		OutgoingOrder: l.outgoing[sd],
	}
	l.seq = append(l.seq, key)
	return true
}

// Len returns the number of distinct edges.
func (l *ResourceEdgeLedger) Len() int {
	return len(l.seq)
}

// Edges returns the edges sorted by resource, day and order.
func (l *ResourceEdgeLedger) Edges() []common.ResourceEdge {
	out := make([]common.ResourceEdge, 0, len(l.seq))
	for _, key := range l.seq {
		out = append(out, *l.edges[key])
	}
	SortResourceEdges(out)
	return out
}

// SortResourceEdges orders edges by resource, day and order.
func SortResourceEdges(edges []common.ResourceEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		if !a.CreatedOn.Equal(b.CreatedOn) {
			return a.CreatedOn.Before(b.CreatedOn)
		}
		return a.Order < b.Order
	})
}
