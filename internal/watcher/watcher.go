// Package watcher turns recursive fsnotify notifications into root-relative
// add, change and unlink events for the scheduler.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codeindex/internal/filter"
	"github.com/dshills/codeindex/internal/scheduler"
)

const eventBuffer = 256

// Watcher watches every non-ignored directory under the filter root
type Watcher struct {
	fsw    *fsnotify.Watcher
	filter *filter.Filter
	logger *slog.Logger

	events chan scheduler.Event
	errors chan error
	done   chan struct{}

	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts watching the tree below f.Root()
func New(f *filter.Filter, logger *slog.Logger) (*Watcher, error) {
	if f == nil {
		return nil, errors.New("watcher: filter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:    fsw,
		filter: f,
		logger: logger.With("component", "watcher"),
		events: make(chan scheduler.Event, eventBuffer),
		errors: make(chan error, 16),
		done:   make(chan struct{}),
		dirs:   make(map[string]bool),
		files:  make(map[string]bool),
	}

	if _, err := w.addTree(""); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.logger.Info("watching", "root", f.Root(), "directories", len(w.dirs), "files", len(w.files))

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Events returns the event stream. It is closed by Close.
func (w *Watcher) Events() <-chan scheduler.Event { return w.events }

// Errors returns watch errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops watching and closes both channels
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return err
}

// Watched reports how many directories and files are tracked
func (w *Watcher) Watched() (dirs, files int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs), len(w.files)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
			select {
			case w.errors <- err:
			case <-w.done:
				return
			default:
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	rel, err := w.filter.Rel(ev.Name)
	if err != nil {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.filter.SkipDir(rel) {
				return
			}
			added, err := w.addTree(rel)
			if err != nil {
				w.logger.Warn("failed to watch directory", "path", rel, "error", err)
			}
			for _, path := range added {
				w.send(scheduler.EventAdd, path)
			}
			return
		}
		if w.track(rel) {
			w.send(scheduler.EventAdd, rel)
		}

	case ev.Has(fsnotify.Write):
		if w.track(rel) {
			w.send(scheduler.EventChange, rel)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		for _, path := range w.forget(rel) {
			w.send(scheduler.EventUnlink, path)
		}
	}
}

// addTree watches dir and every non-ignored directory below it, returning the
// matching files it found
func (w *Watcher) addTree(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(w.filter.Abs(dir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// the tree may change under the walk
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, relErr := w.filter.Rel(path)
		if relErr != nil {
			rel = ""
		}

		if d.IsDir() {
			if rel != "" && w.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			w.mu.Lock()
			w.dirs[rel] = true
			w.mu.Unlock()
			return nil
		}

		if rel != "" && w.track(rel) {
			found = append(found, rel)
		}
		return nil
	})
	return found, err
}

// track records rel as a known file when the filter accepts it
func (w *Watcher) track(rel string) bool {
	if !w.filter.Match(rel) {
		return false
	}
	w.mu.Lock()
	w.files[rel] = true
	w.mu.Unlock()
	return true
}

// forget drops rel, or every known file beneath it when rel was a directory,
// and returns the dropped file paths in order
func (w *Watcher) forget(rel string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var gone []string
	if w.files[rel] {
		delete(w.files, rel)
		gone = append(gone, rel)
	}

	if !w.dirs[rel] {
		return gone
	}

	prefix := rel + "/"
	for dir := range w.dirs {
		if dir == rel || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
			// renamed directories keep their inotify watch
			_ = w.fsw.Remove(w.filter.Abs(dir))
		}
	}
	for path := range w.files {
		if strings.HasPrefix(path, prefix) {
			delete(w.files, path)
			gone = append(gone, path)
		}
	}

	sort.Strings(gone)
	return gone
}

func (w *Watcher) send(t scheduler.EventType, path string) {
	select {
	case w.events <- scheduler.Event{Type: t, Path: path}:
	case <-w.done:
	}
}
