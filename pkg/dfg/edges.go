package dfg

import (
	"fmt"
	"sort"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

// ResourceEdgeMode selects how resource scoped batch edges are derived.
type ResourceEdgeMode string

const (
	// ModeTransitions follows the event level resource relations and only links
	// batches of the same day.
	ModeTransitions ResourceEdgeMode = "transitions"
	// ModeConsecutive links each batch of a resource to the next one by start time.
	ModeConsecutive ResourceEdgeMode = "consecutive"
)

// ParseResourceEdgeMode validates a mode name. The empty string selects
// ModeTransitions.
func ParseResourceEdgeMode(s string) (ResourceEdgeMode, error) {
	switch ResourceEdgeMode(s) {
	case "", ModeTransitions:
		return ModeTransitions, nil
	case ModeConsecutive:
		return ModeConsecutive, nil
	}
	return "", fmt.Errorf("unknown resource edge mode %q", s)
}

// BuildKitEdges lifts kit relations between events to their batches. A
// relation only counts when both events belong to the relation's kit and ended
// up in different batches. Repeated relations between the same batches, kit and
// run collapse into one edge.
func BuildKitEdges(events []common.Event, relations []common.EventRelation) []common.KitEdge {
	byID := indexEvents(events)

	seen := make(map[common.KitEdge]struct{})
	out := make([]common.KitEdge, 0)
	for _, rel := range relations {
		if rel.Kind != common.EdgeKindKit {
			continue
		}
		e, ok1 := byID[rel.SourceEventID]
		e1, ok2 := byID[rel.TargetEventID]
		if !ok1 || !ok2 {
			continue
		}
		if e.KitID != rel.ScopeID || e1.KitID != rel.ScopeID {
			continue
		}
		if e.BatchID == 0 || e1.BatchID == 0 || e.BatchID == e1.BatchID {
			continue
		}
		edge := common.KitEdge{
			Source: e.BatchID,
			Target: e1.BatchID,
			KitID:  rel.ScopeID,
			RunID:  e.RunID,
		}
		if _, ok := seen[edge]; ok {
			continue
		}
		seen[edge] = struct{}{}
		out = append(out, edge)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.KitID != b.KitID {
			return a.KitID < b.KitID
		}
		return a.RunID < b.RunID
	})
	return out
}

// BuildConsecutiveResourceEdges orders the batches of every resource by start
// time (ties by id) and links each batch to its successor. The edge belongs to
// the day the source batch started.
func BuildConsecutiveResourceEdges(batches []common.Batch) []common.ResourceEdge {
	byResource := make(map[string][]common.Batch)
	for _, b := range batches {
		users := b.Users
		if len(users) == 0 {
			users = []string{b.ResourceID}
		}
		for _, u := range users {
			byResource[u] = append(byResource[u], b)
		}
	}

	resources := make([]string, 0, len(byResource))
	for r := range byResource {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	ledger := NewResourceEdgeLedger()
	for _, r := range resources {
		list := byResource[r]
		sort.Slice(list, func(i, j int) bool {
			if !list[i].EarliestTimestamp.Equal(list[j].EarliestTimestamp) {
				return list[i].EarliestTimestamp.Before(list[j].EarliestTimestamp)
			}
			return list[i].ID < list[j].ID
		})
		for i := 0; i+1 < len(list); i++ {
			ledger.Observe(list[i].ID, list[i+1].ID, r, list[i].Day(), 1)
		}
	}
	return ledger.Edges()
}

type transition struct {
	source, target int64
	resource       string
	day            time.Time
	at             time.Time
	eventID        string
}

// BuildTransitionResourceEdges lifts resource relations between events to
// their batches. A relation counts when the two events sit in different
// batches that started on the same day and both list the resource among their
// users. Transitions are replayed per resource and day in event time order so
// Order and OutgoingOrder follow the working sequence of the resource.
func BuildTransitionResourceEdges(
	events []common.Event,
	batches []common.Batch,
	relations []common.EventRelation,
) []common.ResourceEdge {
	byID := indexEvents(events)
	batchByID := make(map[int64]common.Batch, len(batches))
	for _, b := range batches {
		batchByID[b.ID] = b
	}

	transitions := make([]transition, 0, len(relations))
	for _, rel := range relations {
		if rel.Kind != common.EdgeKindResource {
			continue
		}
		e, ok1 := byID[rel.SourceEventID]
		e1, ok2 := byID[rel.TargetEventID]
		if !ok1 || !ok2 {
			continue
		}
		if e.BatchID == 0 || e1.BatchID == 0 || e.BatchID == e1.BatchID {
			continue
		}
		n, ok1 := batchByID[e.BatchID]
		n1, ok2 := batchByID[e1.BatchID]
		if !ok1 || !ok2 {
			continue
		}
		if !n.Day().Equal(n1.Day()) {
			continue
		}
		if !n.HasUser(rel.ScopeID) || !n1.HasUser(rel.ScopeID) {
			continue
		}
		transitions = append(transitions, transition{
			source:   n.ID,
			target:   n1.ID,
			resource: rel.ScopeID,
			day:      n.Day(),
			at:       e.Timestamp,
			eventID:  e.ID,
		})
	}

	sort.SliceStable(transitions, func(i, j int) bool {
		a, b := transitions[i], transitions[j]
		if a.resource != b.resource {
			return a.resource < b.resource
		}
		if !a.day.Equal(b.day) {
			return a.day.Before(b.day)
		}
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		return a.eventID < b.eventID
	})

	ledger := NewResourceEdgeLedger()
	for _, tr := range transitions {
		ledger.Observe(tr.source, tr.target, tr.resource, tr.day, 1)
	}
	return ledger.Edges()
}

// BuildResourceEdges dispatches on mode.
func BuildResourceEdges(
	mode ResourceEdgeMode,
	events []common.Event,
	batches []common.Batch,
	relations []common.EventRelation,
) []common.ResourceEdge {
	if mode == ModeConsecutive {
		return BuildConsecutiveResourceEdges(batches)
	}
	return BuildTransitionResourceEdges(events, batches, relations)
}

func indexEvents(events []common.Event) map[string]common.Event {
	byID := make(map[string]common.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	return byID
}
