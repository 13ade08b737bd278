package common

import (
	"sort"
	"time"
)

// EdgeKind scopes a directly-follows relation. Kit relations follow one work
// item through its activities, resource relations follow one worker.
type EdgeKind string

const (
	EdgeKindKit      EdgeKind = "kit"
	EdgeKindResource EdgeKind = "resource"
)

// Event is a single timestamped activity execution recorded in the event log.
// An event is correlated to exactly one resource and at most one kit.
//
// Events are immutable once recorded except for BatchID, which is assigned by
// the co-batcher. A BatchID of zero means the event has not been batched yet.
type Event struct {
	ID           string    `json:"id"`
	ResourceID   string    `json:"resource_id"`
	KitID        string    `json:"kit_id,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	Activity     string    `json:"activity"`
	Timestamp    time.Time `json:"timestamp"`
	Participants []string  `json:"participants,omitempty"`
	BatchID      int64     `json:"batch_id,omitempty"`
}

// HasKit reports whether the event is correlated to a kit.
func (e Event) HasKit() bool {
	return e.KitID != ""
}

// EventRelation is an event-level directly-follows relation. ScopeID holds the
// kit id for kit relations and the resource id for resource relations.
type EventRelation struct {
	Kind          EdgeKind `json:"kind"`
	SourceEventID string   `json:"source_event_id"`
	TargetEventID string   `json:"target_event_id"`
	ScopeID       string   `json:"scope_id"`
}

// BatchAssignment maps an event to the batch it was placed in.
type BatchAssignment struct {
	EventID string `json:"event_id"`
	BatchID int64  `json:"batch_id"`
}

// Batch is a maximal run of events executed by one resource for one activity
// without a long enough pause in between.
//
// Users lists every resource that contributed to the batch. It always contains
// ResourceID and may contain further resources recorded as event participants.
type Batch struct {
	ID                int64     `json:"id"`
	Activity          string    `json:"activity"`
	ResourceID        string    `json:"resource_id"`
	KitIDs            []string  `json:"kit_ids"`
	RunIDs            []string  `json:"run_ids"`
	Users             []string  `json:"users"`
	EventCount        int       `json:"event_count"`
	KitCount          int       `json:"kit_count"`
	EarliestTimestamp time.Time `json:"earliest_timestamp"`
	LatestTimestamp   time.Time `json:"latest_timestamp"`
}

// Day returns the UTC calendar day the batch started on.
func (b Batch) Day() time.Time {
	return DayOf(b.EarliestTimestamp)
}

// HasUser reports whether the resource contributed to the batch.
func (b Batch) HasUser(resourceID string) bool {
	for _, u := range b.Users {
		if u == resourceID {
			return true
		}
	}
	return false
}

// KitEdge links two batches that handled the same kit one after another.
type KitEdge struct {
	Source int64  `json:"source"`
	Target int64  `json:"target"`
	KitID  string `json:"kit_id"`
	RunID  string `json:"run_id,omitempty"`
}

// ResourceEdge links two batches that one resource executed one after another
// on the same day.
//
// Order ranks the edge among all edges of the same resource and day,
// OutgoingOrder among the edges leaving the same source batch. Both are set
// when the edge is first created and never change afterwards.
type ResourceEdge struct {
	Source        int64     `json:"source"`
	Target        int64     `json:"target"`
	ResourceID    string    `json:"resource_id"`
	CreatedOn     time.Time `json:"created_on"`
	Count         int       `json:"count"`
	Order         int       `json:"order"`
	OutgoingOrder int       `json:"outgoing_order"`
}

// HighLevelBatch groups mutually adjacent batches of a single resource into
// one interaction window.
type HighLevelBatch struct {
	ID             int64     `json:"id"`
	ResourceID     string    `json:"resource_id"`
	CreatedOn      time.Time `json:"created_on"`
	BatchIDs       []int64   `json:"batch_ids"`
	Activities     []string  `json:"activities"`
	EventIDs       []string  `json:"event_ids,omitempty"`
	StartTimestamp time.Time `json:"start_timestamp"`
	EndTimestamp   time.Time `json:"end_timestamp"`
	EventCount     int       `json:"event_count"`
	WorkTogether   bool      `json:"work_together"`
}

// HighLevelEdge is a directly-follows edge between two high level batches of
// the same resource.
type HighLevelEdge struct {
	Source     int64  `json:"source"`
	Target     int64  `json:"target"`
	ResourceID string `json:"resource_id"`
	Count      int    `json:"count"`
	Order      int    `json:"order"`
}

// HighLevelGraph is the consolidated view of one resource.
type HighLevelGraph struct {
	ResourceID string           `json:"resource_id"`
	Nodes      []HighLevelBatch `json:"nodes"`
	Edges      []HighLevelEdge  `json:"edges"`
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortedStrings returns the distinct non-empty values of in, sorted.
func SortedStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SortedIDs returns the distinct values of in, sorted ascending.
func SortedIDs(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
