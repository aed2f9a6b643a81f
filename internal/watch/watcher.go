// Package watch observes a directory tree with fsnotify and records every
// change through a ChangeTracker.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/fs"
)

// DefaultPairWindow is how long a Rename waits for the matching Create.
const DefaultPairWindow = 100 * time.Millisecond

// Recorder is the part of ctrack.ChangeTracker the watcher needs.
type Recorder interface {
	RecordChanges(batch []ctrack.ChangeInput, investigationID string) ([]*ctrack.ChangeRecord, error)
	ClearCache() error
}

// Options configures a Watcher. Zero values select defaults.
type Options struct {
	InvestigationID string
	Ignore          *fs.IgnoreMatcher
	Inspector       *fs.Inspector
	// Exclude lists directories whose events are never recorded, such as
	// the storage root when it lies inside the watched tree.
	Exclude    []string
	PairWindow time.Duration
	// FlushInterval, when positive, is how often the recorder's cache is
	// flushed while watching.
	FlushInterval time.Duration
	Logger        ctrack.Logger
	Clock         ctrack.Clock
}

// Watcher records filesystem events below root.
type Watcher struct {
	root          string
	recorder      Recorder
	investigation string
	ignore        *fs.IgnoreMatcher
	inspector     *fs.Inspector
	exclude       []string
	window        time.Duration
	flushEvery    time.Duration
	logger        ctrack.Logger
	clock         ctrack.Clock

	fsw   *fsnotify.Watcher
	trans *translator
}

// New creates a Watcher for root. Call Run to start watching.
func New(root string, recorder Recorder, opts Options) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	w := &Watcher{
		root:          absRoot,
		recorder:      recorder,
		investigation: opts.InvestigationID,
		ignore:        opts.Ignore,
		inspector:     opts.Inspector,
		window:        opts.PairWindow,
		flushEvery:    opts.FlushInterval,
		logger:        opts.Logger,
		clock:         opts.Clock,
	}
	if w.ignore == nil {
		w.ignore = fs.NewIgnoreMatcher(nil)
	}
	if w.inspector == nil {
		w.inspector = fs.NewInspector(false)
	}
	if w.window <= 0 {
		w.window = DefaultPairWindow
	}
	if w.logger == nil {
		w.logger = ctrack.NewNopLogger()
	}
	if w.clock == nil {
		w.clock = ctrack.RealClock{}
	}
	for _, dir := range opts.Exclude {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving excluded directory: %w", err)
		}
		w.exclude = append(w.exclude, abs)
	}
	w.trans = newTranslator(w.inspector.Inspect, w.window)

	return w, nil
}

// Run watches until ctx is canceled or fsnotify shuts down. Before returning
// it records any pending rename and flushes the recorder's cache.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	defer fsw.Close()

	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching", "root", w.root, "dirs", len(w.trans.dirs), "investigation", w.investigation)

	return w.loop(ctx, fsw.Events, fsw.Errors)
}

func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	var flushC <-chan time.Time
	if w.flushEvery > 0 {
		flushTicker := time.NewTicker(w.flushEvery)
		defer flushTicker.Stop()
		flushC = flushTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return w.stop("context done")

		case ev, ok := <-events:
			if !ok {
				return w.stop("event channel closed")
			}
			if w.skip(ev.Name) {
				continue
			}
			inputs := w.trans.event(ev, w.clock.Now())
			w.record(inputs)
			for _, in := range inputs {
				if in.IsDirectory && in.ChangeType != ctrack.ChangeDeleted && in.Path != in.OldPath {
					if err := w.addTree(in.Path); err != nil {
						w.logger.Warn("cannot watch new directory", "path", in.Path, "error", err)
					}
				}
			}

		case <-ticker.C:
			w.record(w.trans.expire(w.clock.Now()))

		case <-flushC:
			if err := w.recorder.ClearCache(); err != nil {
				w.logger.Error("periodic flush failed", "error", err)
			}

		case err, ok := <-errs:
			if !ok {
				return w.stop("error channel closed")
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// stop records the pending rename and flushes the recorder.
func (w *Watcher) stop(reason string) error {
	w.record(w.trans.drain())
	if err := w.recorder.ClearCache(); err != nil {
		return fmt.Errorf("flushing changes on shutdown: %w", err)
	}
	w.logger.Info("watch stopped", "root", w.root, "reason", reason)
	return nil
}

// addTree adds dir and its non-ignored subdirectories to the watch list.
func (w *Watcher) addTree(dir string) error {
	dirs, err := w.inspector.Dirs(dir, nil)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if w.skip(d) {
			continue
		}
		if err := w.fsw.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
		w.trans.dirs[d] = true
	}
	return nil
}

func (w *Watcher) record(inputs []ctrack.ChangeInput) {
	if len(inputs) == 0 {
		return
	}
	records, err := w.recorder.RecordChanges(inputs, w.investigation)
	if err != nil {
		w.logger.Error("recording changes failed", "recorded", len(records), "total", len(inputs), "error", err)
	}
	for _, r := range records {
		w.logger.Debug("change recorded", "path", r.Path, "type", r.ChangeType)
	}
}

// skip reports whether events for path are not recorded.
func (w *Watcher) skip(path string) bool {
	for _, ex := range w.exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	return w.ignore.Match(rel)
}
