package ctrack

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Conventional change types. The engine accepts any non-empty string.
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeDeleted  = "deleted"
	ChangeMoved    = "moved"
)

// TimestampLayout is the serialized form of record and snapshot timestamps:
// ISO-8601 with an explicit offset, e.g. 2024-01-15T10:30:00.5+00:00.
const TimestampLayout = "2006-01-02T15:04:05.999999999-07:00"

// ErrInvalidChange is returned when a change has no path or no change type.
var ErrInvalidChange = errors.New("invalid change")

// IsCritical reports whether a change type gets an immediate durable write
// in addition to the buffered path.
func IsCritical(changeType string) bool {
	return changeType == ChangeDeleted || changeType == ChangeMoved
}

// ChangeRecord describes one filesystem event. Records are never mutated
// after the engine creates them. Nil optional fields mean "absent".
type ChangeRecord struct {
	Path            string
	ChangeType      string
	Timestamp       time.Time
	IsDirectory     bool
	OldPath         *string
	FileHash        *string
	InvestigationID *string
}

// changeRecordWire is the persisted shape of a ChangeRecord.
type changeRecordWire struct {
	Path            string  `json:"path" yaml:"path"`
	ChangeType      string  `json:"change_type" yaml:"change_type"`
	Timestamp       string  `json:"timestamp" yaml:"timestamp"`
	IsDirectory     bool    `json:"is_directory" yaml:"is_directory"`
	OldPath         *string `json:"old_path" yaml:"old_path"`
	FileHash        *string `json:"file_hash" yaml:"file_hash"`
	InvestigationID *string `json:"investigation_id" yaml:"investigation_id"`
}

func (r *ChangeRecord) toWire() changeRecordWire {
	return changeRecordWire{
		Path:            r.Path,
		ChangeType:      r.ChangeType,
		Timestamp:       FormatTimestamp(r.Timestamp),
		IsDirectory:     r.IsDirectory,
		OldPath:         r.OldPath,
		FileHash:        r.FileHash,
		InvestigationID: r.InvestigationID,
	}
}

// MarshalJSON encodes the record with its persisted field names.
func (r ChangeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire())
}

// UnmarshalJSON decodes a persisted record. Null optional fields stay nil.
func (r *ChangeRecord) UnmarshalJSON(data []byte) error {
	var w changeRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing change timestamp: %w", err)
	}
	*r = ChangeRecord{
		Path:            w.Path,
		ChangeType:      w.ChangeType,
		Timestamp:       ts,
		IsDirectory:     w.IsDirectory,
		OldPath:         w.OldPath,
		FileHash:        w.FileHash,
		InvestigationID: w.InvestigationID,
	}
	return nil
}

// MarshalYAML renders the record with the same keys as its JSON form.
func (r ChangeRecord) MarshalYAML() (any, error) {
	return r.toWire(), nil
}

// Investigation returns the investigation id, or "" when absent.
func (r *ChangeRecord) Investigation() string {
	if r.InvestigationID == nil {
		return ""
	}
	return *r.InvestigationID
}

// key identifies a record across the cache and the persisted files.
func (r *ChangeRecord) key() string {
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s\x00%s",
		r.Timestamp.UnixNano(), r.Path, r.ChangeType, deref(r.OldPath), r.Investigation())
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp and returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// optional converts "" to nil.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
