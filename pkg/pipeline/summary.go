package pipeline

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/batchgraph/pkg/highlevel"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
)

type Phase string

const (
	PhaseCoBatch     Phase = "cobatch"
	PhaseAggregate   Phase = "aggregate"
	PhaseEdges       Phase = "edges"
	PhaseConsolidate Phase = "consolidate"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseCoBatch, PhaseAggregate, PhaseEdges, PhaseConsolidate}

func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Next returns the phase that follows p, or "" after the last one.
func (p Phase) Next() Phase {
	for i, q := range Phases {
		if q == p && i+1 < len(Phases) {
			return Phases[i+1]
		}
	}
	return ""
}

// Summary accounts for every unit a phase touched. A unit is an event, a batch,
// an edge or a resource depending on the phase.
type Summary struct {
	RunID     string           `json:"run_id"`
	Phase     Phase            `json:"phase"`
	Processed int              `json:"processed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Errors    []string         `json:"errors,omitempty"`
	Duration  time.Duration    `json:"duration"`
	Report    highlevel.Report `json:"report"`
}

func (s *Summary) fail(n int, err error) {
	s.Failed += n
	s.Errors = append(s.Errors, err.Error())
}

func (s Summary) log() {
	keyvals := []any{
		"run", s.RunID,
		"phase", s.Phase,
		"processed", s.Processed,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"duration", s.Duration,
	}
	if s.Phase == PhaseConsolidate {
		keyvals = append(keyvals,
			"created", s.Report.Created,
			"merged", s.Report.Merged,
			"deduplicated", s.Report.Deduplicated,
			"cycles", s.Report.CyclesResolved,
			"singletons", s.Report.Singletons,
			"reused", s.Report.Reused,
		)
	}
	if s.Failed > 0 {
		logger.Warn("[Pipeline] Phase finished with failures", keyvals...)
		return
	}
	logger.Info("[Pipeline] Phase finished", keyvals...)
}

// Recorder receives every finished summary.
type Recorder interface {
	RecordSummary(Summary)
}

func NewRunID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return id
}
