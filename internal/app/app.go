package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/database"
	"ctrack-go/internal/encryption"
	"ctrack-go/internal/export"
	"ctrack-go/internal/fs"
	"ctrack-go/internal/store"
	"ctrack-go/internal/watch"
)

// CTApp is the application layer between the CLI and the ChangeTracker.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and flushes buffered changes on Close.
type CTApp struct {
	cfg       *config.Config
	store     store.Store
	index     ctrack.SnapshotIndex
	tracker   *ctrack.ChangeTracker
	encryptor ctrack.Encryptor
	exporter  *export.Exporter
	inspector *fs.Inspector
	logger    ctrack.Logger
	clock     ctrack.Clock
	logFile   *os.File
}

// NewCTApp creates a fully wired CTApp from the given config.
// operation identifies the CLI command being run (e.g. "record", "watch").
// The caller must call Close when done.
func NewCTApp(cfg *config.Config, operation string) (*CTApp, error) {
	st, err := store.NewStoreFromConfig(cfg.Store, cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	index, err := database.NewIndexFromConfig(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot index: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := operation + "-" + time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	var opts []ctrack.Option
	if cfg.Cache.Capacity > 0 {
		opts = append(opts, ctrack.WithCacheCapacity(cfg.Cache.Capacity))
	}
	clock := ctrack.RealClock{}
	tracker := ctrack.NewChangeTracker(st, st, index, log, clock, ctrack.UUIDGenerator{}, opts...)

	return &CTApp{
		cfg:       cfg,
		store:     st,
		index:     index,
		tracker:   tracker,
		encryptor: enc,
		exporter:  export.NewExporter(tracker, clock, log),
		inspector: fs.NewInspector(cfg.Watch.HashFiles),
		logger:    log,
		clock:     clock,
		logFile:   logFile,
	}, nil
}

// RecordChange resolves the given paths and records one change. When the
// path still exists its directory flag and, if hashing is enabled, its
// content hash are filled in from disk unless given explicitly.
func (a *CTApp) RecordChange(in ctrack.ChangeInput, investigationID string) (*ctrack.ChangeRecord, error) {
	p, err := filepath.Abs(in.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	in.Path = p

	if in.OldPath != "" {
		old, err := filepath.Abs(in.OldPath)
		if err != nil {
			return nil, fmt.Errorf("resolving old path: %w", err)
		}
		in.OldPath = old
	}

	if entry, err := a.inspector.Inspect(p); err == nil {
		in.IsDirectory = in.IsDirectory || entry.IsDir
		if in.FileHash == "" {
			in.FileHash = entry.Hash
		}
	}

	return a.tracker.RecordChange(in, investigationID)
}

// GetChanges returns the changes matching q, newest first.
func (a *CTApp) GetChanges(q ctrack.ChangeQuery) ([]*ctrack.ChangeRecord, error) {
	return a.tracker.GetChanges(q)
}

// GetChangeSummary summarizes the investigation's changes since the given time.
func (a *CTApp) GetChangeSummary(investigationID string, since time.Time) (*ctrack.ChangeSummary, error) {
	return a.tracker.GetChangeSummary(investigationID, since)
}

// CreateSnapshot resolves rawPath, counts the files below it that the
// configured ignore rules keep, and snapshots the investigation.
func (a *CTApp) CreateSnapshot(investigationID, rawPath string, metadata map[string]any) (*ctrack.InvestigationSnapshot, error) {
	p, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	matcher, err := fs.LoadIgnoreMatcher(p, a.cfg.Watch.Ignore)
	if err != nil {
		return nil, err
	}
	count, err := a.inspector.CountFiles(p, matcher)
	if err != nil {
		return nil, err
	}

	return a.tracker.CreateSnapshot(investigationID, p, count, metadata)
}

// GetSnapshotHistory returns up to limit snapshots, newest first.
func (a *CTApp) GetSnapshotHistory(investigationID string, limit int) ([]*ctrack.InvestigationSnapshot, error) {
	return a.tracker.GetSnapshotHistory(investigationID, limit)
}

// Reindex rebuilds the investigation's snapshot chain from the snapshot files.
// A sqlite index is copied next to itself first; the copy's path is returned,
// or "" when no copy was made.
func (a *CTApp) Reindex(investigationID string) (int, string, error) {
	var backup string
	if db, ok := a.index.(*database.SQLiteIndex); ok && db.Path() != ":memory:" {
		backup = db.Path() + "." + a.clock.Now().UTC().Format("20060102T150405Z") + ".bak"
		if err := db.BackupTo(backup); err != nil {
			return 0, "", fmt.Errorf("backing up snapshot index: %w", err)
		}
	}

	n, err := a.tracker.RebuildSnapshotIndex(investigationID)
	if err != nil {
		return 0, backup, err
	}
	return n, backup, nil
}

// NewWatcher creates a watcher that records changes below rawRoot for the
// investigation. ctrack's own storage and log directories are never recorded.
func (a *CTApp) NewWatcher(rawRoot, investigationID string, flushInterval time.Duration) (*watch.Watcher, error) {
	root, err := filepath.Abs(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	matcher, err := fs.LoadIgnoreMatcher(root, a.cfg.Watch.Ignore)
	if err != nil {
		return nil, err
	}

	exclude := []string{a.cfg.LogDir}
	if a.cfg.StorageRoot != "" {
		exclude = append(exclude, a.cfg.StorageRoot)
	}
	if a.cfg.Index.DataDir != "" {
		exclude = append(exclude, a.cfg.Index.DataDir)
	}

	return watch.New(root, a.tracker, watch.Options{
		InvestigationID: investigationID,
		Ignore:          matcher,
		Inspector:       a.inspector,
		Exclude:         exclude,
		FlushInterval:   flushInterval,
		Logger:          a.logger,
		Clock:           a.clock,
	})
}

// Export writes the investigation's bundle to w, encrypted with the
// configured public key when encrypt is set.
func (a *CTApp) Export(investigationID string, w io.Writer, encrypt bool) (*export.Bundle, error) {
	var enc ctrack.Encryptor
	if encrypt {
		if !a.encryptor.IsConfigured() {
			return nil, fmt.Errorf("encryption keys are not set up: run 'ctrack config keys'")
		}
		enc = a.encryptor
	}
	return a.exporter.Export(investigationID, w, enc)
}

// ReadBundle decodes a bundle from r. passphrase is only called when the
// bundle is encrypted.
func (a *CTApp) ReadBundle(r io.Reader, passphrase func() (string, error)) (*export.Bundle, error) {
	return export.Read(r, func() (ctrack.DecryptionContext, error) {
		p, err := passphrase()
		if err != nil {
			return nil, err
		}
		return a.encryptor.Unlock(p)
	})
}

// SetupKeys generates the export key pair, protecting the private key with
// passphrase. It returns the public recipient when the encryptor has one.
func (a *CTApp) SetupKeys(passphrase string) (string, error) {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return "", err
	}
	if r, ok := a.encryptor.(interface{ Recipient() (string, error) }); ok {
		return r.Recipient()
	}
	return "", nil
}

// Close flushes buffered changes and closes all resources. Every step runs;
// the first error is returned.
func (a *CTApp) Close() error {
	var firstErr error

	if err := a.tracker.ClearCache(); err != nil {
		firstErr = fmt.Errorf("flushing changes: %w", err)
	}

	if err := a.index.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing snapshot index: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
