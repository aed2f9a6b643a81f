package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/export"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "", want: time.Time{}},
		{input: "2h", want: now.Add(-2 * time.Hour)},
		{input: "2024-01-10", want: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{input: "2024-01-15T12:30:00+02:00", want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{input: "-2h", wantErr: true},
		{input: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTime(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	got, err := parseMetadata([]string{"ticket=BUG-12", "note=a=b"})
	if err != nil {
		t.Fatalf("parseMetadata() error = %v", err)
	}
	if got["ticket"] != "BUG-12" || got["note"] != "a=b" {
		t.Errorf("parseMetadata() = %v", got)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseMetadata([]string{bad}); err == nil {
			t.Errorf("parseMetadata(%q) expected error", bad)
		}
	}
}

func testRecords() []*ctrack.ChangeRecord {
	old := "/repo/old.py"
	inv := "inv-1"
	return []*ctrack.ChangeRecord{
		{Path: "/repo/new.py", ChangeType: ctrack.ChangeMoved, OldPath: &old, InvestigationID: &inv,
			Timestamp: time.Date(2024, 1, 15, 10, 31, 0, 0, time.UTC)},
		{Path: "/repo/src", ChangeType: ctrack.ChangeCreated, IsDirectory: true,
			Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
	}
}

func renderWith(t *testing.T, format string, v any, text func(w io.Writer) error) string {
	t.Helper()
	cmd := &cobra.Command{}
	addOutputFlag(cmd)
	if err := cmd.Flags().Set("output", format); err != nil {
		t.Fatalf("setting output flag: %v", err)
	}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	r, err := newRenderer(cmd)
	if err != nil {
		t.Fatalf("newRenderer() error = %v", err)
	}
	if err := r.render(v, text); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	return buf.String()
}

func TestRenderer_Changes(t *testing.T) {
	records := testRecords()
	text := func(w io.Writer) error { return writeChanges(w, records) }

	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"/repo/old.py -> /repo/new.py", "/repo/src/", "2024-01-15 10:31:00", "inv-1"}},
		{"json", []string{`"path": "/repo/new.py"`, `"old_path": "/repo/old.py"`, `"timestamp": "2024-01-15T10:31:00+00:00"`, `"investigation_id": null`}},
		{"yaml", []string{"- path: /repo/new.py", "  change_type: moved", "  old_path: /repo/old.py", "  is_directory: true"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got := renderWith(t, tt.format, records, text)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestRenderer_UnknownFormat(t *testing.T) {
	cmd := &cobra.Command{}
	addOutputFlag(cmd)
	cmd.Flags().Set("output", "xml")
	if _, err := newRenderer(cmd); err == nil {
		t.Error("newRenderer() expected error for xml")
	}
}

func TestWriteSummary(t *testing.T) {
	s := &ctrack.ChangeSummary{
		TotalChanges: 3,
		ByType:       map[string]int{"modified": 2, "deleted": 1},
		ByDirectory:  map[string]int{"/repo": 3},
		TimeRange: &ctrack.TimeRange{
			Earliest: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			Latest:   time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC),
		},
		Truncated: true,
	}

	var buf bytes.Buffer
	if err := writeSummary(&buf, s); err != nil {
		t.Fatalf("writeSummary() error = %v", err)
	}
	got := buf.String()
	for _, want := range []string{"Total changes: 3 (newest 10000 only)", "From 2024-01-15 10:30:00 to 2024-01-15 11:00:00", "deleted", "/repo"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	// Types are listed alphabetically.
	if strings.Index(got, "deleted") > strings.Index(got, "modified") {
		t.Errorf("types not sorted:\n%s", got)
	}
}

func TestWriteBundle(t *testing.T) {
	b := &export.Bundle{
		InvestigationID: "inv-1",
		ExportedAt:      time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC),
		Snapshots: []*ctrack.InvestigationSnapshot{
			{InvestigationID: "inv-1", Path: "/repo/first", Timestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
			{InvestigationID: "inv-1", Path: "/repo/second", Timestamp: time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC),
				ChangesSinceLast: testRecords()},
		},
	}

	var buf bytes.Buffer
	if err := writeBundle(&buf, b); err != nil {
		t.Fatalf("writeBundle() error = %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "Snapshots:     2 (2 changes)") {
		t.Errorf("output missing counts:\n%s", got)
	}
	if strings.Index(got, "/repo/second") > strings.Index(got, "/repo/first") {
		t.Errorf("snapshots not listed newest first:\n%s", got)
	}
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	writeChanges(&buf, nil)
	writeHistory(&buf, nil)
	if got := buf.String(); got != "No changes recorded.\nNo snapshots.\n" {
		t.Errorf("output = %q", got)
	}
}
