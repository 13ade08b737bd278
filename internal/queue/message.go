package queue

import (
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
)

// PhaseMsg asks a worker to run one pipeline phase. ResourceID narrows the
// consolidate phase to a single resource.
type PhaseMsg struct {
	Message    string         `json:"message,omitempty"`
	RunID      string         `json:"run_id"`
	Phase      pipeline.Phase `json:"phase"`
	ResourceID string         `json:"resource_id,omitempty"`
}

func QueueFor(phase pipeline.Phase) (string, error) {
	switch phase {
	case pipeline.PhaseCoBatch:
		return CoBatchQueue, nil
	case pipeline.PhaseAggregate:
		return AggregateQueue, nil
	case pipeline.PhaseEdges:
		return EdgesQueue, nil
	case pipeline.PhaseConsolidate:
		return ConsolidateQueue, nil
	}
	return "", fmt.Errorf("no queue for phase %q", phase)
}

func DecodePhaseMsg(body []byte) (PhaseMsg, error) {
	var msg PhaseMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode phase message: %w", err)
	}
	if _, err := pipeline.ParsePhase(string(msg.Phase)); err != nil {
		return msg, err
	}
	if msg.RunID == "" {
		return msg, fmt.Errorf("phase message without run id")
	}
	if msg.ResourceID != "" && msg.Phase != pipeline.PhaseConsolidate {
		return msg, fmt.Errorf("resource id is only allowed for the %s phase", pipeline.PhaseConsolidate)
	}
	return msg, nil
}
