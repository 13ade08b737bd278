package highlevel

import (
	"sort"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
)

// resolveCycles merges nodes linked in both directions until no such pair is
// left and returns the final high level edges. Edges are rebuilt from the batch
// edges after every round, which drops the edges of merged nodes.
func (c *Consolidator) resolveCycles(a *arena, edges []common.ResourceEdge, rep *Report) (map[pair]*common.HighLevelEdge, []pair) {
	for round := 1; ; round++ {
		lifted, keys := lift(a, edges)
		pairs := mutualPairs(lifted, keys)
		if len(pairs) == 0 {
			return lifted, keys
		}
		if c.maxCycleRounds > 0 && round > c.maxCycleRounds {
			logger.Warn("[HighLevel] Max cycle rounds reached before convergence",
				"resource", a.resource, "round", round, "pairs", len(pairs))
			return lifted, keys
		}

		targets := make(map[int64][]int64)
		for _, k := range keys {
			targets[k.source] = append(targets[k.source], k.target)
		}

		touched := make(map[int64]struct{})
		merged := 0
		for _, p := range pairs {
			_, t1 := touched[p.source]
			_, t2 := touched[p.target]
			if t1 || t2 {
				continue
			}
			keep, drop := decide(p.source, p.target, lifted, targets)
			a.merge(a.nodes[keep], a.nodes[drop])
			touched[keep] = struct{}{}
			touched[drop] = struct{}{}
			merged++
		}
		rep.CyclesResolved += merged
		logger.Debug("[HighLevel] Resolved two-cycles", "resource", a.resource, "round", round, "merged", merged)
	}
}

// mutualPairs lists node pairs with edges in both directions, smaller id first.
func mutualPairs(lifted map[pair]*common.HighLevelEdge, keys []pair) []pair {
	out := make([]pair, 0)
	for _, k := range keys {
		if k.source > k.target {
			continue
		}
		if _, ok := lifted[pair{k.target, k.source}]; ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].source != out[j].source {
			return out[i].source < out[j].source
		}
		return out[i].target < out[j].target
	})
	return out
}

// decide picks which node of a two-cycle survives. A node that leads on to a
// third node is kept if its partner does not. Otherwise the node whose inbound
// edge from the partner came first is kept, ties going to the lower id.
func decide(x, y int64, lifted map[pair]*common.HighLevelEdge, targets map[int64][]int64) (keep, drop int64) {
	xOut := leadsElsewhere(targets[x], y)
	yOut := leadsElsewhere(targets[y], x)
	switch {
	case xOut && !yOut:
		return x, y
	case yOut && !xOut:
		return y, x
	}

	inX := lifted[pair{y, x}].Order
	inY := lifted[pair{x, y}].Order
	if inX < inY || (inX == inY && x < y) {
		return x, y
	}
	return y, x
}

func leadsElsewhere(targets []int64, partner int64) bool {
	for _, t := range targets {
		if t != partner {
			return true
		}
	}
	return false
}
