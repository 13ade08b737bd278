package dfg

import (
	"sort"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

// DeriveEventRelations computes the event level directly-follows relations
// when the event store does not provide them: for every kit and for every
// resource, events are ordered by time and each event is linked to the next
// one. Resource relations cover participants as well as the owning resource.
func DeriveEventRelations(events []common.Event) []common.EventRelation {
	byKit := make(map[string][]common.Event)
	byResource := make(map[string][]common.Event)
	for _, e := range events {
		if e.HasKit() {
			byKit[e.KitID] = append(byKit[e.KitID], e)
		}
		if e.ResourceID != "" {
			byResource[e.ResourceID] = append(byResource[e.ResourceID], e)
		}
		for _, p := range e.Participants {
			if p != "" && p != e.ResourceID {
				byResource[p] = append(byResource[p], e)
			}
		}
	}

	out := make([]common.EventRelation, 0, 2*len(events))
	out = appendChains(out, common.EdgeKindKit, byKit)
	out = appendChains(out, common.EdgeKindResource, byResource)
	return out
}

func appendChains(out []common.EventRelation, kind common.EdgeKind, groups map[string][]common.Event) []common.EventRelation {
	scopes := make([]string, 0, len(groups))
	for scope := range groups {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		chain := groups[scope]
		sort.SliceStable(chain, func(i, j int) bool {
			if !chain[i].Timestamp.Equal(chain[j].Timestamp) {
				return chain[i].Timestamp.Before(chain[j].Timestamp)
			}
			return chain[i].ID < chain[j].ID
		})
		for i := 0; i+1 < len(chain); i++ {
			out = append(out, common.EventRelation{
				Kind:          kind,
				SourceEventID: chain[i].ID,
				TargetEventID: chain[i+1].ID,
				ScopeID:       scope,
			})
		}
	}
	return out
}
