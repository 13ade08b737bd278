package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
)

// PhaseRunner is the part of *pipeline.Runner a worker drives.
type PhaseRunner interface {
	RunPhase(ctx context.Context, runID string, phase pipeline.Phase) (pipeline.Summary, error)
	ConsolidateResource(ctx context.Context, resourceID string) (pipeline.ConsolidationResult, error)
}

// ResourceLister names the resources the consolidate phase fans out to.
type ResourceLister interface {
	ListResources(ctx context.Context) ([]string, error)
}

type ProcessorParams struct {
	Runner    PhaseRunner
	Resources ResourceLister
	Publisher Publisher
	// Chain publishes the message for the next phase after a phase succeeded.
	Chain bool
}

type Processor struct {
	runner    PhaseRunner
	resources ResourceLister
	pub       Publisher
	chain     bool
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		runner:    p.Runner,
		resources: p.Resources,
		pub:       p.Publisher,
		chain:     p.Chain,
	}
}

// Publish enqueues msg on the queue of its phase.
func Publish(ctx context.Context, p Publisher, msg PhaseMsg) error {
	name, err := QueueFor(msg.Phase)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ctx, p, name, body, nil)
}

// ProcessPhaseMessage runs the phase a message asks for. The edges phase is
// followed by one consolidate message per resource so resources are
// consolidated independently and can be retried one by one.
func (p *Processor) ProcessPhaseMessage(ctx context.Context, body []byte) error {
	msg, err := DecodePhaseMsg(body)
	if err != nil {
		return err
	}

	if msg.Phase == pipeline.PhaseConsolidate && msg.ResourceID != "" {
		res, err := p.runner.ConsolidateResource(ctx, msg.ResourceID)
		if err != nil {
			return fmt.Errorf("failed to consolidate resource %s: %w", msg.ResourceID, err)
		}
		logger.Info("[Queue] Resource consolidated",
			"run", msg.RunID, "resource", msg.ResourceID,
			"nodes", res.Nodes, "edges", res.Edges, "cycles", res.Report.CyclesResolved)
		return nil
	}

	summary, err := p.runner.RunPhase(ctx, msg.RunID, msg.Phase)
	if err != nil {
		return fmt.Errorf("phase %s failed: %w", msg.Phase, err)
	}
	if !p.chain {
		return nil
	}

	next := msg.Phase.Next()
	switch next {
	case "":
		return nil
	case pipeline.PhaseConsolidate:
		return p.fanOut(ctx, msg.RunID)
	}
	logger.Debug("[Queue] Chaining phase", "run", msg.RunID, "from", msg.Phase, "to", next, "processed", summary.Processed)
	return Publish(ctx, p.pub, PhaseMsg{Message: "Phase chained", RunID: msg.RunID, Phase: next})
}

func (p *Processor) fanOut(ctx context.Context, runID string) error {
	resources, err := p.resources.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list resources: %w", err)
	}
	for _, r := range resources {
		err := Publish(ctx, p.pub, PhaseMsg{
			Message:    "Consolidate resource",
			RunID:      runID,
			Phase:      pipeline.PhaseConsolidate,
			ResourceID: r,
		})
		if err != nil {
			return fmt.Errorf("failed to publish consolidation of %s: %w", r, err)
		}
	}
	logger.Info("[Queue] Fanned out consolidation", "run", runID, "resources", len(resources))
	return nil
}
