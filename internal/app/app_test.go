package app

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/encryption"
	"ctrack-go/internal/testutil"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Encryption.Type = "test"
	return cfg
}

func openApp(t *testing.T, cfg *config.Config, operation string) *CTApp {
	t.Helper()
	a, err := NewCTApp(cfg, operation)
	if err != nil {
		t.Fatalf("NewCTApp() error = %v", err)
	}
	return a
}

func TestNewCTApp_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{"unknown store", func(cfg *config.Config) { cfg.Store.Type = "s3" }},
		{"unknown index", func(cfg *config.Config) { cfg.Index.Type = "postgres" }},
		{"sqlite index without data dir", func(cfg *config.Config) { cfg.Index.DataDir = "" }},
		{"unknown encryption", func(cfg *config.Config) { cfg.Encryption.Type = "rot13" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.mutate(cfg)
			if a, err := NewCTApp(cfg, "test"); err == nil {
				a.Close()
				t.Error("NewCTApp() expected error")
			}
		})
	}
}

func TestCTApp_RecordAcrossInvocations(t *testing.T) {
	cfg := newTestConfig(t)
	work := t.TempDir()
	file := filepath.Join(work, "a.py")
	content := []byte("print(1)\n")
	if err := os.WriteFile(file, content, 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	a := openApp(t, cfg, "record")
	rec, err := a.RecordChange(ctrack.ChangeInput{Path: file, ChangeType: ctrack.ChangeModified}, "inv-1")
	if err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}
	if rec.FileHash == nil || *rec.FileHash != testutil.SHA256Hex(content) {
		t.Errorf("FileHash = %v, want content hash", rec.FileHash)
	}
	if _, err := a.RecordChange(ctrack.ChangeInput{Path: work, ChangeType: ctrack.ChangeModified}, "inv-1"); err != nil {
		t.Fatalf("RecordChange(dir) error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The next invocation sees what the first one buffered.
	a = openApp(t, cfg, "changes")
	defer a.Close()
	got, err := a.GetChanges(ctrack.ChangeQuery{InvestigationID: "inv-1"})
	if err != nil {
		t.Fatalf("GetChanges() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetChanges() returned %d records, want 2", len(got))
	}
	if got[0].Path != work || !got[0].IsDirectory {
		t.Errorf("newest record = %+v, want directory %s", got[0], work)
	}
	if got[1].Path != file || got[1].IsDirectory {
		t.Errorf("oldest record = %+v, want file %s", got[1], file)
	}

	if _, err := os.Stat(filepath.Join(cfg.LogDir, "ctrack.log")); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

func TestCTApp_RecordRejectsInvalid(t *testing.T) {
	a := openApp(t, newTestConfig(t), "record")
	defer a.Close()

	_, err := a.RecordChange(ctrack.ChangeInput{Path: "/repo/a.py"}, "inv-1")
	if !errors.Is(err, ctrack.ErrInvalidChange) {
		t.Errorf("RecordChange() error = %v, want ErrInvalidChange", err)
	}
}

func TestCTApp_SnapshotsAndReindex(t *testing.T) {
	cfg := newTestConfig(t)
	work := t.TempDir()
	for _, f := range []string{"a.py", "b.py", "x.swp", ".ctignore"} {
		if err := os.WriteFile(filepath.Join(work, f), []byte("x"), 0644); err != nil {
			t.Fatalf("writing %s: %v", f, err)
		}
	}

	a := openApp(t, cfg, "snapshot")
	defer a.Close()

	if _, err := a.RecordChange(ctrack.ChangeInput{Path: filepath.Join(work, "a.py"), ChangeType: ctrack.ChangeCreated}, "inv-1"); err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}
	snap, err := a.CreateSnapshot("inv-1", work, map[string]any{"note": "first"})
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	// x.swp and .ctignore are ignored.
	if snap.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", snap.FileCount)
	}
	if len(snap.ChangesSinceLast) != 1 {
		t.Errorf("len(ChangesSinceLast) = %d, want 1", len(snap.ChangesSinceLast))
	}

	n, backup, err := a.Reindex("inv-1")
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Reindex() = %d, want 1", n)
	}
	if backup == "" {
		t.Error("Reindex() made no index backup")
	} else if _, err := os.Stat(backup); err != nil {
		t.Errorf("index backup missing: %v", err)
	}

	history, err := a.GetSnapshotHistory("inv-1", 0)
	if err != nil {
		t.Fatalf("GetSnapshotHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Metadata["note"] != "first" {
		t.Errorf("GetSnapshotHistory() = %+v, want the one snapshot", history)
	}
}

func TestCTApp_ExportAndRead(t *testing.T) {
	cfg := newTestConfig(t)
	a := openApp(t, cfg, "export")
	defer a.Close()

	if _, err := a.SetupKeys("secret"); err != nil {
		t.Fatalf("SetupKeys() error = %v", err)
	}
	if _, err := a.CreateSnapshot("inv-1", t.TempDir(), nil); err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}

	var buf bytes.Buffer
	if _, err := a.Export("inv-1", &buf, true); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Fatal("Export() wrote plaintext with encrypt set")
	}

	encrypted := buf.Bytes()
	_, err := a.ReadBundle(bytes.NewReader(encrypted), func() (string, error) { return "wrong", nil })
	if !errors.Is(err, encryption.ErrWrongPassphrase) {
		t.Errorf("ReadBundle() error = %v, want ErrWrongPassphrase", err)
	}

	b, err := a.ReadBundle(bytes.NewReader(encrypted), func() (string, error) { return "secret", nil })
	if err != nil {
		t.Fatalf("ReadBundle() error = %v", err)
	}
	if b.InvestigationID != "inv-1" || len(b.Snapshots) != 1 {
		t.Errorf("ReadBundle() = %+v, want one snapshot of inv-1", b)
	}

	prompted := false
	buf.Reset()
	if _, err := a.Export("inv-1", &buf, false); err != nil {
		t.Fatalf("Export(plain) error = %v", err)
	}
	if _, err := a.ReadBundle(&buf, func() (string, error) { prompted = true; return "", nil }); err != nil {
		t.Fatalf("ReadBundle(plain) error = %v", err)
	}
	if prompted {
		t.Error("plain bundle asked for a passphrase")
	}

	if _, err := a.Export("", &buf, false); err == nil {
		t.Error("Export(\"\") expected error")
	}
}

func TestCTApp_NewWatcher(t *testing.T) {
	cfg := newTestConfig(t)
	a := openApp(t, cfg, "watch")
	defer a.Close()

	if _, err := a.NewWatcher(t.TempDir(), "inv-1", time.Minute); err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
}
