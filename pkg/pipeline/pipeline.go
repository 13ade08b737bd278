// Package pipeline runs the aggregation phases against a graph repository:
// co-batching, batch aggregation, batch edges and high level consolidation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/batching"
	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/dfg"
	"github.com/OFFIS-RIT/batchgraph/pkg/highlevel"
	"github.com/OFFIS-RIT/batchgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"
)

type Params struct {
	Repo     store.GraphRepository
	Locker   leaselock.Locker
	Config   Config
	Recorder Recorder
}

type Runner struct {
	repo         store.GraphRepository
	locker       leaselock.Locker
	cfg          Config
	recorder     Recorder
	consolidator *highlevel.Consolidator
}

func NewRunner(p Params) (*Runner, error) {
	if p.Repo == nil {
		return nil, errors.New("pipeline: repository is nil")
	}
	locker := p.Locker
	if locker == nil {
		locker = leaselock.NewLocal()
	}
	return &Runner{
		repo:         p.Repo,
		locker:       locker,
		cfg:          p.Config.normalize(),
		recorder:     p.Recorder,
		consolidator: highlevel.New(),
	}, nil
}

func (r *Runner) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return util.RetryErrWithBackoff(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, fn)
}

func list[T any](ctx context.Context, r *Runner, what string, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := util.RetryWithBackoff(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, fn)
	if err != nil {
		return out, fmt.Errorf("failed to list %s: %w", what, err)
	}
	return out, nil
}

func (r *Runner) finish(s *Summary, started time.Time) {
	s.Duration = time.Since(started)
	s.log()
	if r.recorder != nil {
		r.recorder.RecordSummary(*s)
	}
}

// RunPhase runs a single phase.
func (r *Runner) RunPhase(ctx context.Context, runID string, phase Phase) (Summary, error) {
	switch phase {
	case PhaseCoBatch:
		return r.CoBatch(ctx, runID)
	case PhaseAggregate:
		return r.Aggregate(ctx, runID)
	case PhaseEdges:
		return r.BuildEdges(ctx, runID)
	case PhaseConsolidate:
		return r.Consolidate(ctx, runID)
	}
	return Summary{RunID: runID, Phase: phase}, fmt.Errorf("unknown phase %q", phase)
}

// RunAll runs every phase in order and stops at the first phase that fails as
// a whole.
func (r *Runner) RunAll(ctx context.Context, runID string) ([]Summary, error) {
	out := make([]Summary, 0, len(Phases))
	for _, phase := range Phases {
		s, err := r.RunPhase(ctx, runID, phase)
		out = append(out, s)
		if err != nil {
			return out, fmt.Errorf("phase %s: %w", phase, err)
		}
	}
	return out, nil
}

// CoBatch assigns every correlated event to a batch.
func (r *Runner) CoBatch(ctx context.Context, runID string) (s Summary, err error) {
	started := time.Now()
	s = Summary{RunID: runID, Phase: PhaseCoBatch}
	defer func() {
		if err != nil {
			s.fail(0, err)
		}
		r.finish(&s, started)
	}()

	events, err := list(ctx, r, "events", r.repo.ListCorrelatedEvents)
	if err != nil {
		return s, err
	}

	assignments := batching.AssignBatches(events, r.cfg.Gap)
	s.Skipped = len(events) - len(assignments)
	logger.Debug("[Batching] Assigned events", "events", len(events), "assigned", len(assignments))

	err = r.retry(ctx, func(ctx context.Context) error {
		return r.repo.AssignEventBatches(ctx, assignments)
	})
	if err != nil {
		return s, fmt.Errorf("failed to store batch assignments: %w", err)
	}
	s.Processed = len(assignments)
	return s, nil
}

// Aggregate builds one batch per batch id and replaces the stored batches. A
// batch whose events disagree on resource or activity fails the phase and
// nothing is written.
func (r *Runner) Aggregate(ctx context.Context, runID string) (s Summary, err error) {
	started := time.Now()
	s = Summary{RunID: runID, Phase: PhaseAggregate}
	defer func() { r.finish(&s, started) }()

	events, err := list(ctx, r, "events", r.repo.ListCorrelatedEvents)
	if err != nil {
		s.fail(0, err)
		return s, err
	}

	batches, err := batching.AggregateBatches(events)
	if err != nil {
		var groupErr *batching.InconsistentGroupError
		for _, e := range unwrapAll(err) {
			if errors.As(e, &groupErr) {
				s.fail(1, e)
			}
		}
		return s, err
	}

	err = r.retry(ctx, func(ctx context.Context) error {
		return r.repo.ReplaceBatches(ctx, batches)
	})
	if err != nil {
		s.fail(len(batches), err)
		return s, fmt.Errorf("failed to store batches: %w", err)
	}
	s.Processed = len(batches)
	return s, nil
}

// BuildEdges derives the kit and resource scoped batch edges. The two edge
// sets are written independently; one failing does not hold back the other.
func (r *Runner) BuildEdges(ctx context.Context, runID string) (s Summary, err error) {
	started := time.Now()
	s = Summary{RunID: runID, Phase: PhaseEdges}
	defer func() { r.finish(&s, started) }()

	events, err := list(ctx, r, "events", r.repo.ListCorrelatedEvents)
	if err != nil {
		s.fail(0, err)
		return s, err
	}
	batches, err := list(ctx, r, "batches", func(ctx context.Context) ([]common.Batch, error) {
		return r.repo.ListBatches(ctx, store.BatchFilter{})
	})
	if err != nil {
		s.fail(0, err)
		return s, err
	}

	relations, err := r.relations(ctx, events, &s)
	if err != nil {
		s.fail(0, err)
		return s, err
	}

	kitEdges := dfg.BuildKitEdges(events, relations)
	resourceEdges := dfg.BuildResourceEdges(r.cfg.ResourceEdgeMode, events, batches, relations)
	logger.Debug("[DF] Built batch edges",
		"mode", r.cfg.ResourceEdgeMode, "kit", len(kitEdges), "resource", len(resourceEdges))

	if err := r.retry(ctx, func(ctx context.Context) error {
		return r.repo.ReplaceKitEdges(ctx, kitEdges)
	}); err != nil {
		logger.Error("[DF] Failed to store kit edges", "edges", len(kitEdges), "err", err)
		s.fail(len(kitEdges), fmt.Errorf("failed to store kit edges: %w", err))
	} else {
		s.Processed += len(kitEdges)
	}

	if err := r.retry(ctx, func(ctx context.Context) error {
		return r.repo.ReplaceResourceEdges(ctx, resourceEdges)
	}); err != nil {
		logger.Error("[DF] Failed to store resource edges", "edges", len(resourceEdges), "err", err)
		s.fail(len(resourceEdges), fmt.Errorf("failed to store resource edges: %w", err))
	} else {
		s.Processed += len(resourceEdges)
	}
	return s, nil
}

// relations returns the event level relations, either read from the repository
// or derived from the events and stored chunk by chunk.
func (r *Runner) relations(ctx context.Context, events []common.Event, s *Summary) ([]common.EventRelation, error) {
	if !r.cfg.DeriveEventDF {
		kit, err := list(ctx, r, "kit relations", func(ctx context.Context) ([]common.EventRelation, error) {
			return r.repo.ListEventRelations(ctx, common.EdgeKindKit)
		})
		if err != nil {
			return nil, err
		}
		res, err := list(ctx, r, "resource relations", func(ctx context.Context) ([]common.EventRelation, error) {
			return r.repo.ListEventRelations(ctx, common.EdgeKindResource)
		})
		if err != nil {
			return nil, err
		}
		return append(kit, res...), nil
	}

	relations := dfg.DeriveEventRelations(events)
	_ = store.ChunkRange(len(relations), r.cfg.WriteChunkSize, func(start, end int) error {
		chunk := relations[start:end]
		err := r.retry(ctx, func(ctx context.Context) error {
			return r.repo.SaveEventRelations(ctx, chunk)
		})
		if err != nil {
			logger.Error("[DF] Failed to store derived relations", "from", start, "to", end, "err", err)
			s.fail(0, fmt.Errorf("failed to store relations %d-%d: %w", start, end, err))
		}
		return nil
	})
	return relations, nil
}

// Consolidate rebuilds the high level graph of every resource. Resources are
// independent: a failing resource is counted and the others carry on.
func (r *Runner) Consolidate(ctx context.Context, runID string) (s Summary, err error) {
	started := time.Now()
	s = Summary{RunID: runID, Phase: PhaseConsolidate}
	defer func() { r.finish(&s, started) }()

	resources, err := list(ctx, r, "resources", r.repo.ListResources)
	if err != nil {
		s.fail(0, err)
		return s, err
	}

	var mu sync.Mutex
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.ConsolidateParallel)
	for _, resourceID := range resources {
		eg.Go(func() error {
			res, err := r.ConsolidateResource(ectx, resourceID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("[HighLevel] Consolidation failed", "resource", resourceID, "err", err)
				s.fail(1, fmt.Errorf("resource %s: %w", resourceID, err))
				return nil
			}
			s.Processed++
			s.Report.Add(res.Report)
			return nil
		})
	}
	_ = eg.Wait()
	return s, ctx.Err()
}

// ConsolidationResult describes the graph written for one resource.
type ConsolidationResult struct {
	ResourceID string
	Nodes      int
	Edges      int
	Report     highlevel.Report
}

// ConsolidateResource rebuilds the high level graph of one resource while
// holding its lease.
func (r *Runner) ConsolidateResource(ctx context.Context, resourceID string) (ConsolidationResult, error) {
	res := ConsolidationResult{ResourceID: resourceID}
	opts := leaselock.Options{TTL: r.cfg.LeaseTTL, Wait: true, TokenPrefix: "consolidate-"}
	err := r.locker.WithLease(ctx, leaselock.ResourceKey(resourceID), opts, func(ctx context.Context) error {
		in, err := r.loadInput(ctx, resourceID)
		if err != nil {
			return err
		}

		graph, report := r.consolidator.Consolidate(resourceID, in)
		res.Report = report
		res.Nodes = len(graph.Nodes)
		res.Edges = len(graph.Edges)

		return r.retry(ctx, func(ctx context.Context) error {
			return r.repo.ReplaceHighLevelGraph(ctx, resourceID, graph)
		})
	})
	return res, err
}

func (r *Runner) loadInput(ctx context.Context, resourceID string) (highlevel.Input, error) {
	var in highlevel.Input
	var err error

	in.Batches, err = list(ctx, r, "batches", func(ctx context.Context) ([]common.Batch, error) {
		return r.repo.ListBatches(ctx, store.BatchFilter{ResourceID: resourceID})
	})
	if err != nil {
		return in, err
	}
	in.Edges, err = list(ctx, r, "resource edges", func(ctx context.Context) ([]common.ResourceEdge, error) {
		return r.repo.ListResourceEdges(ctx, store.ResourceEdgeFilter{ResourceID: resourceID})
	})
	if err != nil {
		return in, err
	}
	in.Existing, err = list(ctx, r, "high level batches", func(ctx context.Context) ([]common.HighLevelBatch, error) {
		return r.repo.ListHighLevelBatches(ctx, store.HighLevelFilter{ResourceID: resourceID})
	})
	if err != nil {
		return in, err
	}

	ids := make([]int64, 0, len(in.Batches))
	for _, b := range in.Batches {
		ids = append(ids, b.ID)
	}
	in.Events, err = list(ctx, r, "events", func(ctx context.Context) ([]common.Event, error) {
		return r.repo.ListEventsForBatches(ctx, ids)
	})
	return in, err
}

// unwrapAll flattens errors joined with errors.Join.
func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
