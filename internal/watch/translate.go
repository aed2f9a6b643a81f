package watch

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/fs"
)

// InspectFunc reports the state of a path that still exists.
type InspectFunc func(path string) (*fs.Entry, error)

type pendingRename struct {
	path  string
	isDir bool
	at    time.Time
}

// translator turns raw fsnotify events into change inputs. A Rename is held
// back until the next event so it can be paired with the Create of the new
// name. It is not safe for concurrent use.
type translator struct {
	inspect InspectFunc
	window  time.Duration
	dirs    map[string]bool // directories known to be watched
	pending *pendingRename
}

func newTranslator(inspect InspectFunc, window time.Duration) *translator {
	return &translator{
		inspect: inspect,
		window:  window,
		dirs:    make(map[string]bool),
	}
}

// event translates one event observed at now.
func (t *translator) event(ev fsnotify.Event, now time.Time) []ctrack.ChangeInput {
	var out []ctrack.ChangeInput

	var paired *pendingRename
	if t.pending != nil {
		if ev.Has(fsnotify.Create) && now.Sub(t.pending.at) <= t.window {
			paired = t.pending
		} else {
			out = append(out, unpaired(t.pending))
		}
		t.pending = nil
	}

	switch {
	case ev.Has(fsnotify.Create):
		in := t.describe(ev.Name)
		in.ChangeType = ctrack.ChangeCreated
		if paired != nil {
			in.ChangeType = ctrack.ChangeMoved
			in.OldPath = paired.path
		}
		if in.IsDirectory {
			t.dirs[ev.Name] = true
		}
		out = append(out, in)
	case ev.Has(fsnotify.Write):
		in := t.describe(ev.Name)
		in.ChangeType = ctrack.ChangeModified
		out = append(out, in)
	case ev.Has(fsnotify.Remove):
		out = append(out, ctrack.ChangeInput{
			Path:        ev.Name,
			ChangeType:  ctrack.ChangeDeleted,
			IsDirectory: t.forget(ev.Name),
		})
	case ev.Has(fsnotify.Rename):
		t.pending = &pendingRename{path: ev.Name, isDir: t.forget(ev.Name), at: now}
	}
	return out
}

// expire releases a pending rename older than the pairing window.
func (t *translator) expire(now time.Time) []ctrack.ChangeInput {
	if t.pending == nil || now.Sub(t.pending.at) <= t.window {
		return nil
	}
	return t.drain()
}

// drain releases a pending rename regardless of its age.
func (t *translator) drain() []ctrack.ChangeInput {
	if t.pending == nil {
		return nil
	}
	in := unpaired(t.pending)
	t.pending = nil
	return []ctrack.ChangeInput{in}
}

func (t *translator) describe(path string) ctrack.ChangeInput {
	in := ctrack.ChangeInput{Path: path}
	entry, err := t.inspect(path)
	if err != nil {
		// Gone again before it could be inspected.
		return in
	}
	in.IsDirectory = entry.IsDir
	in.FileHash = entry.Hash
	return in
}

// forget drops path from the watched directories and reports whether it was one.
func (t *translator) forget(path string) bool {
	if !t.dirs[path] {
		return false
	}
	delete(t.dirs, path)
	return true
}

// unpaired records a rename whose destination was never seen. The path moved
// out of the watched tree, so the old location is all that is known.
func unpaired(p *pendingRename) ctrack.ChangeInput {
	return ctrack.ChangeInput{
		Path:        p.path,
		ChangeType:  ctrack.ChangeMoved,
		IsDirectory: p.isDir,
		OldPath:     p.path,
	}
}
