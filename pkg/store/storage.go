package store

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
)

// ErrNotFound is returned when a lookup by id has no result.
var ErrNotFound = errors.New("not found")

// BatchFilter narrows ListBatches. Zero values match everything. A batch
// matches ResourceID when the resource is among its users.
type BatchFilter struct {
	ResourceID string
	Date       time.Time
}

// ResourceEdgeFilter narrows ListResourceEdges. Zero values match everything.
type ResourceEdgeFilter struct {
	ResourceID string
	Date       time.Time
}

// HighLevelFilter narrows the high level listings. Date filters nodes by the
// day they were created on and edges by the day of their source node.
type HighLevelFilter struct {
	ResourceID string
	Date       time.Time
}

// GraphRepository persists the event knowledge graph the pipeline reads from
// and writes to. Replace operations swap the whole previous content in one
// step so readers never see a half written phase.
type GraphRepository interface {
	ListCorrelatedEvents(ctx context.Context) ([]common.Event, error)
	ListEventRelations(ctx context.Context, kind common.EdgeKind) ([]common.EventRelation, error)
	SaveEvents(ctx context.Context, events []common.Event) error
	SaveEventRelations(ctx context.Context, relations []common.EventRelation) error
	AssignEventBatches(ctx context.Context, assignments []common.BatchAssignment) error
	ListEventsForBatches(ctx context.Context, batchIDs []int64) ([]common.Event, error)

	ReplaceBatches(ctx context.Context, batches []common.Batch) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]common.Batch, error)
	ListResources(ctx context.Context) ([]string, error)

	ReplaceKitEdges(ctx context.Context, edges []common.KitEdge) error
	ReplaceResourceEdges(ctx context.Context, edges []common.ResourceEdge) error
	ListKitEdges(ctx context.Context, batchID int64) ([]common.KitEdge, error)
	ListResourceEdges(ctx context.Context, filter ResourceEdgeFilter) ([]common.ResourceEdge, error)

	ListHighLevelBatches(ctx context.Context, filter HighLevelFilter) ([]common.HighLevelBatch, error)
	ListHighLevelEdges(ctx context.Context, filter HighLevelFilter) ([]common.HighLevelEdge, error)
	ReplaceHighLevelGraph(ctx context.Context, resourceID string, graph common.HighLevelGraph) error
}
