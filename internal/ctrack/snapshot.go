package ctrack

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InvestigationSnapshot is a point-in-time record of an investigation plus the
// changes observed since the previous snapshot of the same investigation.
type InvestigationSnapshot struct {
	InvestigationID  string
	Timestamp        time.Time
	Path             string
	FileCount        int
	ChangesSinceLast []*ChangeRecord
	Metadata         map[string]any
}

type snapshotWire struct {
	InvestigationID  string          `json:"investigation_id" yaml:"investigation_id"`
	Timestamp        string          `json:"timestamp" yaml:"timestamp"`
	Path             string          `json:"path" yaml:"path"`
	FileCount        int             `json:"file_count" yaml:"file_count"`
	ChangesSinceLast []*ChangeRecord `json:"changes_since_last" yaml:"changes_since_last"`
	Metadata         map[string]any  `json:"metadata" yaml:"metadata"`
}

func (s *InvestigationSnapshot) toWire() snapshotWire {
	changes := s.ChangesSinceLast
	if changes == nil {
		changes = []*ChangeRecord{}
	}
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return snapshotWire{
		InvestigationID:  s.InvestigationID,
		Timestamp:        FormatTimestamp(s.Timestamp),
		Path:             s.Path,
		FileCount:        s.FileCount,
		ChangesSinceLast: changes,
		Metadata:         metadata,
	}
}

// MarshalJSON encodes the snapshot with its persisted field names.
func (s InvestigationSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire())
}

// UnmarshalJSON decodes a persisted snapshot.
func (s *InvestigationSnapshot) UnmarshalJSON(data []byte) error {
	var w snapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing snapshot timestamp: %w", err)
	}
	*s = InvestigationSnapshot{
		InvestigationID:  w.InvestigationID,
		Timestamp:        ts,
		Path:             w.Path,
		FileCount:        w.FileCount,
		ChangesSinceLast: w.ChangesSinceLast,
		Metadata:         w.Metadata,
	}
	return nil
}

// MarshalYAML renders the snapshot with the same keys as its JSON form.
func (s InvestigationSnapshot) MarshalYAML() (any, error) {
	return s.toWire(), nil
}

const snapshotLayout = "20060102_150405"

// SnapshotName returns the base file name for a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return t.UTC().Format(snapshotLayout)
}

// CompareSnapshotNames orders snapshot names by timestamp, then by the
// numeric collision suffix, so base_2 sorts before base_10.
func CompareSnapshotNames(a, b string) int {
	aBase, aN := splitSnapshotName(a)
	bBase, bN := splitSnapshotName(b)
	if c := strings.Compare(aBase, bBase); c != 0 {
		return c
	}
	return cmp.Compare(aN, bN)
}

// splitSnapshotName splits base_N into base and N. Names without a suffix
// have N 0.
func splitSnapshotName(name string) (string, int) {
	n := len(snapshotLayout)
	if len(name) > n+1 && name[n] == '_' {
		if i, err := strconv.Atoi(name[n+1:]); err == nil {
			return name[:n], i
		}
	}
	return name, 0
}

// SnapshotEntry is one link of an investigation's snapshot chain.
type SnapshotEntry struct {
	ID              string
	InvestigationID string
	Seq             int64
	Name            string
	Timestamp       time.Time
	PreviousID      string
	ChangeCount     int
}
