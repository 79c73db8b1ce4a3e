// Package watch provides the fsnotify-based ChangeSource adapter.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/neilopet/mcpmon/internal/port/outbound"
)

// DefaultIgnoreDirs are directory names filtered out of the event stream.
var DefaultIgnoreDirs = []string{"node_modules", ".git", "dist", "build"}

// dependencyManifests are files whose change means the dependency graph
// moved, not just source code.
var dependencyManifests = map[string]struct{}{
	"package.json":      {},
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"go.mod":            {},
	"go.sum":            {},
	"requirements.txt":  {},
	"Pipfile.lock":      {},
	"Cargo.toml":        {},
	"Cargo.lock":        {},
}

// versionManifests are files that carry a bare version marker.
var versionManifests = map[string]struct{}{
	"VERSION":         {},
	"version.txt":     {},
	".nvmrc":          {},
	".python-version": {},
}

// Watcher watches the union of configured paths and emits classified change
// events. It implements the outbound.ChangeSource interface.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan outbound.ChangeEvent
	logger *slog.Logger

	ignore map[string]struct{}

	// files restricts events to these paths when individual files were
	// requested; empty means whole-directory mode.
	files map[string]struct{}

	// hashes dedupes write events by content hash: editors often touch a
	// file without changing it, and one save can fire several writes.
	mu     sync.Mutex
	hashes map[string]uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a watcher over paths. Each path may be a file (watched via its
// parent directory, so rename-replace saves are seen) or a directory
// (watched recursively, minus ignored directories).
func New(paths []string, ignoreDirs []string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if len(ignoreDirs) == 0 {
		ignoreDirs = DefaultIgnoreDirs
	}
	ignore := make(map[string]struct{}, len(ignoreDirs))
	for _, d := range ignoreDirs {
		ignore[d] = struct{}{}
	}

	w := &Watcher{
		fsw:    fsw,
		events: make(chan outbound.ChangeEvent, 64),
		logger: logger,
		ignore: ignore,
		files:  make(map[string]struct{}),
		hashes: make(map[string]uint64),
		done:   make(chan struct{}),
	}

	for _, p := range paths {
		if err := w.add(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	go w.run()
	return w, nil
}

// Events returns the change event stream.
func (w *Watcher) Events() <-chan outbound.ChangeEvent {
	return w.events
}

// Close cancels the stream and releases watch resources.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

// Compile-time check that Watcher implements ChangeSource.
var _ outbound.ChangeSource = (*Watcher)(nil)

// add registers one configured path with the underlying watcher.
func (w *Watcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		w.files[abs] = struct{}{}
		w.rememberHash(abs)
		// Watch the parent so atomic-rename saves are observed.
		return w.fsw.Add(filepath.Dir(abs))
	}

	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if _, ignored := w.ignore[d.Name()]; ignored {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// run translates fsnotify events into classified ChangeEvents.
func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.events)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.ignored(ev.Name) {
		return
	}

	// In file mode, discard events for siblings in the watched parent dir.
	if len(w.files) > 0 {
		if _, watched := w.files[ev.Name]; !watched {
			return
		}
	}

	// New directories in directory mode join the watch set.
	if ev.Op.Has(fsnotify.Create) && len(w.files) == 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if _, ignored := w.ignore[filepath.Base(ev.Name)]; !ignored {
				if err := w.fsw.Add(ev.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
				}
			}
			return
		}
	}

	var typ outbound.ChangeType
	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		typ = outbound.Remove
		w.forgetHash(ev.Name)
	case ev.Op.Has(fsnotify.Create):
		typ = outbound.Create
		w.rememberHash(ev.Name)
	case ev.Op.Has(fsnotify.Write):
		if !w.contentChanged(ev.Name) {
			w.logger.Debug("ignoring no-op write", "path", ev.Name)
			return
		}
		typ = outbound.Modify
	default:
		// Chmod-only events do not warrant a restart.
		return
	}

	if typ != outbound.Remove {
		typ = classify(ev.Name, typ)
	}

	select {
	case w.events <- outbound.ChangeEvent{Path: ev.Name, Type: typ}:
	case <-w.done:
	}
}

// ignored reports whether path sits inside a filtered vendor directory.
func (w *Watcher) ignored(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, ok := w.ignore[part]; ok {
			return true
		}
	}
	return false
}

// classify upgrades a create/modify event on a known manifest file.
func classify(path string, typ outbound.ChangeType) outbound.ChangeType {
	base := filepath.Base(path)
	if _, ok := dependencyManifests[base]; ok {
		return outbound.DependencyChange
	}
	if _, ok := versionManifests[base]; ok {
		return outbound.VersionUpdate
	}
	return typ
}

// contentChanged hashes the file and reports whether the hash moved since
// the last observation. Unreadable files count as changed.
func (w *Watcher) contentChanged(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	sum := xxhash.Sum64(data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.hashes[path]; ok && prev == sum {
		return false
	}
	w.hashes[path] = sum
	return true
}

func (w *Watcher) rememberHash(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.hashes[path] = xxhash.Sum64(data)
	w.mu.Unlock()
}

func (w *Watcher) forgetHash(path string) {
	w.mu.Lock()
	delete(w.hashes, path)
	w.mu.Unlock()
}
