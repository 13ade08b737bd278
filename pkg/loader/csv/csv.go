package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/loader"
)

// participantSep separates resources inside the participants column.
const participantSep = ";"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

var columns = map[string]string{
	"id":           "id",
	"event_id":     "id",
	"resource":     "resource_id",
	"resource_id":  "resource_id",
	"activity":     "activity",
	"timestamp":    "timestamp",
	"time":         "timestamp",
	"kit":          "kit_id",
	"kit_id":       "kit_id",
	"run":          "run_id",
	"run_id":       "run_id",
	"participants": "participants",
}

var required = []string{"id", "resource_id", "activity", "timestamp"}

// CSVEventLoader reads event logs through a file loader.
type CSVEventLoader struct {
	loader loader.FileLoader
}

func NewCSVEventLoader(l loader.FileLoader) *CSVEventLoader {
	return &CSVEventLoader{loader: l}
}

func (l *CSVEventLoader) LoadEvents(ctx context.Context, path string) ([]common.Event, error) {
	content, err := l.loader.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	events, err := ParseEvents(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

// ParseEvents parses an event log with a header row. Columns are matched by
// name, unknown columns are ignored and blank rows are skipped. Timestamps
// without a zone are read as UTC.
func ParseEvents(content []byte) ([]common.Event, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("CSV file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if col, ok := columns[name]; ok {
			index[col] = i
		}
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	field := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var events []common.Event
	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if isBlank(record) {
			continue
		}

		ts, err := parseTime(field(record, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		e := common.Event{
			ID:         field(record, "id"),
			ResourceID: field(record, "resource_id"),
			KitID:      field(record, "kit_id"),
			RunID:      field(record, "run_id"),
			Activity:   field(record, "activity"),
			Timestamp:  ts,
		}
		if e.ID == "" || e.ResourceID == "" || e.Activity == "" {
			return nil, fmt.Errorf("line %d: id, resource and activity are required", line)
		}
		if p := field(record, "participants"); p != "" {
			for _, u := range strings.Split(p, participantSep) {
				if u = strings.TrimSpace(u); u != "" {
					e.Participants = append(e.Participants, u)
				}
			}
		}
		events = append(events, e)
	}
	return events, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
