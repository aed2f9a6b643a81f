package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/export"
)

// renderer writes command results as text, JSON or YAML.
type renderer struct {
	w      io.Writer
	format string
}

func newRenderer(cmd *cobra.Command) (*renderer, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "", "text", "json", "yaml":
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
	return &renderer{w: cmd.OutOrStdout(), format: format}, nil
}

// render encodes v in the structured formats and calls text otherwise.
func (r *renderer) render(v any, text func(w io.Writer) error) error {
	switch r.format {
	case "json":
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(r.w)
	}
}

func writeChanges(w io.Writer, records []*ctrack.ChangeRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No changes recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range records {
		path := r.Path
		if r.OldPath != nil && *r.OldPath != r.Path {
			path = *r.OldPath + " -> " + r.Path
		}
		if r.IsDirectory {
			path += "/"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.ChangeType, r.Investigation(), path)
	}
	return tw.Flush()
}

func writeSummary(w io.Writer, s *ctrack.ChangeSummary) error {
	fmt.Fprintf(w, "Total changes: %d", s.TotalChanges)
	if s.Truncated {
		fmt.Fprintf(w, " (newest %d only)", ctrack.SummaryQueryLimit)
	}
	fmt.Fprintln(w)
	if s.TimeRange != nil {
		fmt.Fprintf(w, "From %s to %s\n",
			s.TimeRange.Earliest.Format("2006-01-02 15:04:05"), s.TimeRange.Latest.Format("2006-01-02 15:04:05"))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(s.ByType) > 0 {
		fmt.Fprintln(tw, "\nBy type:")
		for _, k := range sortedKeys(s.ByType) {
			fmt.Fprintf(tw, "  %s\t%d\n", k, s.ByType[k])
		}
	}
	if len(s.ByDirectory) > 0 {
		fmt.Fprintln(tw, "\nBy directory:")
		for _, k := range sortedKeys(s.ByDirectory) {
			fmt.Fprintf(tw, "  %s\t%d\n", k, s.ByDirectory[k])
		}
	}
	return tw.Flush()
}

func writeHistory(w io.Writer, history []*ctrack.InvestigationSnapshot) error {
	if len(history) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tFILES\tCHANGES\tPATH")
	for _, s := range history {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n",
			s.Timestamp.Format("2006-01-02 15:04:05"), s.FileCount, len(s.ChangesSinceLast), s.Path)
	}
	return tw.Flush()
}

func writeBundle(w io.Writer, b *export.Bundle) error {
	fmt.Fprintf(w, "Investigation: %s\n", b.InvestigationID)
	fmt.Fprintf(w, "Exported at:   %s\n", b.ExportedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Snapshots:     %d (%d changes)\n\n", len(b.Snapshots), b.ChangeCount())

	// Bundles hold snapshots oldest first.
	newest := make([]*ctrack.InvestigationSnapshot, len(b.Snapshots))
	for i, s := range b.Snapshots {
		newest[len(b.Snapshots)-1-i] = s
	}
	return writeHistory(w, newest)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseMetadata turns repeated key=value flags into snapshot metadata.
func parseMetadata(pairs []string) (map[string]any, error) {
	metadata := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q: want key=value", p)
		}
		metadata[k] = v
	}
	return metadata, nil
}
