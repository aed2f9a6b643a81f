// Package export writes an investigation's snapshot chain as a single,
// optionally encrypted, JSON bundle and reads it back.
package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"ctrack-go/internal/ctrack"
)

// ErrEncrypted is returned by Read when the bundle is encrypted and no
// unlock function was given.
var ErrEncrypted = errors.New("bundle is encrypted")

// Bundle is the exported form of an investigation: its snapshots, oldest first.
type Bundle struct {
	InvestigationID string
	ExportedAt      time.Time
	Snapshots       []*ctrack.InvestigationSnapshot
}

type bundleWire struct {
	InvestigationID string                          `json:"investigation_id" yaml:"investigation_id"`
	ExportedAt      string                          `json:"exported_at" yaml:"exported_at"`
	Snapshots       []*ctrack.InvestigationSnapshot `json:"snapshots" yaml:"snapshots"`
}

func (b *Bundle) toWire() bundleWire {
	snapshots := b.Snapshots
	if snapshots == nil {
		snapshots = []*ctrack.InvestigationSnapshot{}
	}
	return bundleWire{
		InvestigationID: b.InvestigationID,
		ExportedAt:      ctrack.FormatTimestamp(b.ExportedAt),
		Snapshots:       snapshots,
	}
}

func (b Bundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.toWire())
}

func (b *Bundle) UnmarshalJSON(data []byte) error {
	var w bundleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := ctrack.ParseTimestamp(w.ExportedAt)
	if err != nil {
		return fmt.Errorf("parsing exported_at: %w", err)
	}
	*b = Bundle{InvestigationID: w.InvestigationID, ExportedAt: ts, Snapshots: w.Snapshots}
	return nil
}

func (b Bundle) MarshalYAML() (any, error) {
	return b.toWire(), nil
}

// ChangeCount returns the number of change records across all snapshots.
func (b *Bundle) ChangeCount() int {
	n := 0
	for _, s := range b.Snapshots {
		n += len(s.ChangesSinceLast)
	}
	return n
}

// HistorySource supplies snapshot history, newest first.
type HistorySource interface {
	GetSnapshotHistory(investigationID string, limit int) ([]*ctrack.InvestigationSnapshot, error)
}

// Exporter builds bundles from a ChangeTracker's snapshot history.
type Exporter struct {
	source HistorySource
	clock  ctrack.Clock
	logger ctrack.Logger
}

// NewExporter creates an Exporter.
func NewExporter(source HistorySource, clock ctrack.Clock, logger ctrack.Logger) *Exporter {
	return &Exporter{source: source, clock: clock, logger: logger}
}

// Build collects every readable snapshot of the investigation.
func (e *Exporter) Build(investigationID string) (*Bundle, error) {
	if investigationID == "" {
		return nil, fmt.Errorf("investigation id is required")
	}

	history, err := e.source.GetSnapshotHistory(investigationID, math.MaxInt32)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot history: %w", err)
	}

	snapshots := make([]*ctrack.InvestigationSnapshot, len(history))
	for i, s := range history {
		snapshots[len(history)-1-i] = s
	}

	return &Bundle{
		InvestigationID: investigationID,
		ExportedAt:      e.clock.Now().UTC(),
		Snapshots:       snapshots,
	}, nil
}

// Export builds the investigation's bundle and writes it to w, encrypted
// when enc is non-nil.
func (e *Exporter) Export(investigationID string, w io.Writer, enc ctrack.Encryptor) (*Bundle, error) {
	b, err := e.Build(investigationID)
	if err != nil {
		return nil, err
	}
	if err := Write(w, b, enc); err != nil {
		return nil, err
	}
	e.logger.Info("investigation exported", "investigation", investigationID,
		"snapshots", len(b.Snapshots), "changes", b.ChangeCount(), "encrypted", enc != nil)
	return b, nil
}

// Write encodes b as 2-space indented JSON, encrypted when enc is non-nil.
func Write(w io.Writer, b *Bundle, enc ctrack.Encryptor) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	data = append(data, '\n')

	if enc == nil {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing bundle: %w", err)
		}
		return nil
	}
	if err := enc.Encrypt(bytes.NewReader(data), w); err != nil {
		return fmt.Errorf("encrypting bundle: %w", err)
	}
	return nil
}

// Read decodes a bundle. Plain JSON bundles are decoded directly; anything
// else is treated as ciphertext and decrypted with the context returned by
// unlock. A nil unlock makes encrypted input fail with ErrEncrypted.
func Read(r io.Reader, unlock func() (ctrack.DecryptionContext, error)) (*Bundle, error) {
	br := bufio.NewReader(r)
	if !IsPlain(br) {
		if unlock == nil {
			return nil, ErrEncrypted
		}
		dec, err := unlock()
		if err != nil {
			return nil, fmt.Errorf("unlocking bundle key: %w", err)
		}
		var plain bytes.Buffer
		if err := dec.Decrypt(br, &plain); err != nil {
			return nil, fmt.Errorf("decrypting bundle: %w", err)
		}
		return decode(&plain)
	}
	return decode(br)
}

// IsPlain reports whether the next non-space byte of r opens a JSON object.
// It consumes nothing from r.
func IsPlain(r *bufio.Reader) bool {
	for i := 1; ; i++ {
		peek, err := r.Peek(i)
		if len(peek) < i {
			return false
		}
		switch c := peek[i-1]; c {
		case ' ', '\t', '\r', '\n':
			if err != nil {
				return false
			}
			continue
		default:
			return c == '{'
		}
	}
}

func decode(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	return &b, nil
}
