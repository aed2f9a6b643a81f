package ctrack

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// SummaryQueryLimit bounds the sample GetChangeSummary aggregates over.
const SummaryQueryLimit = 10000

// TimeRange is the earliest and latest timestamp of a set of records.
type TimeRange struct {
	Earliest time.Time `json:"earliest" yaml:"earliest"`
	Latest   time.Time `json:"latest" yaml:"latest"`
}

type timeRangeWire struct {
	Earliest string `json:"earliest" yaml:"earliest"`
	Latest   string `json:"latest" yaml:"latest"`
}

// MarshalJSON renders both bounds in the change record timestamp format.
func (r TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeRangeWire{Earliest: FormatTimestamp(r.Earliest), Latest: FormatTimestamp(r.Latest)})
}

func (r TimeRange) MarshalYAML() (any, error) {
	return timeRangeWire{Earliest: FormatTimestamp(r.Earliest), Latest: FormatTimestamp(r.Latest)}, nil
}

// ChangeSummary aggregates a bounded sample of change records.
type ChangeSummary struct {
	TotalChanges int            `json:"total_changes" yaml:"total_changes"`
	ByType       map[string]int `json:"by_type" yaml:"by_type"`
	ByDirectory  map[string]int `json:"by_directory" yaml:"by_directory"`
	TimeRange    *TimeRange     `json:"time_range" yaml:"time_range"`
	// Truncated is set when more records matched than SummaryQueryLimit. The counts and
	// TimeRange then describe the newest SummaryQueryLimit records only.
	Truncated bool `json:"truncated" yaml:"truncated"`
}

// GetChangeSummary counts the newest SummaryQueryLimit matching records by
// change type and by parent directory.
func (t *ChangeTracker) GetChangeSummary(investigationID string, since time.Time) (*ChangeSummary, error) {
	records, err := t.GetChanges(ChangeQuery{
		Since:           since,
		InvestigationID: investigationID,
		Limit:           SummaryQueryLimit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("querying changes for summary: %w", err)
	}
	truncated := len(records) > SummaryQueryLimit
	if truncated {
		records = records[:SummaryQueryLimit]
	}

	summary := &ChangeSummary{
		TotalChanges: len(records),
		ByType:       make(map[string]int),
		ByDirectory:  make(map[string]int),
		Truncated:    truncated,
	}
	for _, r := range records {
		summary.ByType[r.ChangeType]++
		summary.ByDirectory[filepath.Dir(r.Path)]++
	}
	if len(records) > 0 {
		// records are sorted newest first
		summary.TimeRange = &TimeRange{
			Earliest: records[len(records)-1].Timestamp,
			Latest:   records[0].Timestamp,
		}
	}
	return summary, nil
}
