// Package workspace wires the filter, chunker, embedder, persister, indexer and
// searcher of one root directory together. It is the only place components are
// constructed.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/codeindex/internal/chunker"
	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/filter"
	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/scheduler"
	"github.com/dshills/codeindex/internal/searcher"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/watcher"
)

// Workspace owns every component of one indexed root
type Workspace struct {
	Config    *config.Config
	Logger    *slog.Logger
	Filter    *filter.Filter
	Embedder  embedder.Embedder
	Persister storage.Persister
	Indexer   *indexer.Indexer
	Searcher  *searcher.Searcher

	mu        sync.Mutex
	scheduler *scheduler.Scheduler
	closeOnce sync.Once
}

// Option customizes Open
type Option func(*options)

type options struct {
	embedder embedder.Embedder
	logger   *slog.Logger
}

// WithEmbedder uses e instead of building one from the config
func WithEmbedder(e embedder.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithLogger sets the logger handed to every component
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open builds the workspace and loads the persisted snapshot
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Workspace, error) {
	if cfg == nil {
		return nil, errors.New("workspace: config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	files, err := filter.New(cfg.Root, cfg.FilterConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create filter: %w", err)
	}

	chunk, err := chunker.New(cfg.ChunkerConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	emb := o.embedder
	if emb == nil {
		emb, err = embedder.New(cfg.EmbedderConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	persister, err := storage.Open(storage.Backend(cfg.Storage.Backend), cfg.Storage.Dir)
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	idx, err := indexer.New(indexer.Dependencies{
		Chunker:   chunk,
		Embedder:  emb,
		Persister: persister,
		Logger:    o.logger,
		Filter:    files,
	}, cfg.IndexerConfig())
	if err != nil {
		_ = persister.Close()
		_ = emb.Close()
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}
	if err := idx.Load(ctx); err != nil {
		_ = persister.Close()
		_ = emb.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	ws := &Workspace{
		Config:    cfg,
		Logger:    o.logger,
		Filter:    files,
		Embedder:  emb,
		Persister: persister,
		Indexer:   idx,
		Searcher:  searcher.New(idx, cfg.Search.CacheSize),
	}
	o.logger.Info("workspace opened",
		"root", cfg.Root,
		"snapshot", persister.Location(),
		"provider", emb.Provider(),
		"model", emb.Model(),
		"files", len(idx.Paths()))
	return ws, nil
}

// Watch keeps the index in step with the filesystem until ctx is done. Pending
// work is flushed or dropped by the scheduler on the way out.
func (w *Workspace) Watch(ctx context.Context) error {
	fsw, err := watcher.New(w.Filter, w.Logger)
	if err != nil {
		return err
	}
	defer fsw.Close()

	sched, err := scheduler.New(w.Indexer, w.Config.SchedulerConfig(),
		scheduler.WithLogger(w.Logger),
		scheduler.WithReadFunc(w.ReadFile))
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.scheduler = sched
	w.mu.Unlock()
	defer func() {
		_ = sched.Close()
		w.mu.Lock()
		w.scheduler = nil
		w.mu.Unlock()
	}()

	go func() {
		for err := range fsw.Errors() {
			w.Logger.Warn("watcher error", "error", err)
		}
	}()

	err = sched.Run(ctx, fsw.Events())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SchedulerState reports the watch scheduler phase, or idle when not watching
func (w *Workspace) SchedulerState() scheduler.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler == nil {
		return scheduler.StateIdle
	}
	return w.scheduler.State()
}

// ReadFile reads a root-relative path, rejecting content the filter excludes
func (w *Workspace) ReadFile(rel string) (string, error) {
	content, err := os.ReadFile(w.Filter.Abs(rel))
	if err != nil {
		return "", err
	}
	if err := w.Filter.CheckContent(content); err != nil {
		return "", fmt.Errorf("%s: %w", rel, err)
	}
	return string(content), nil
}

// IndexFile indexes one root-relative or absolute path and saves the snapshot
func (w *Workspace) IndexFile(ctx context.Context, path string) (string, bool, error) {
	rel, err := w.Resolve(path)
	if err != nil {
		return "", false, err
	}
	if !w.Filter.Match(rel) {
		return rel, false, fmt.Errorf("%w: %s", ErrExcluded, rel)
	}
	content, err := w.ReadFile(rel)
	if err != nil {
		return rel, false, err
	}
	changed, err := w.Indexer.AddFile(ctx, rel, content)
	if err != nil {
		return rel, false, err
	}
	if changed {
		if err := w.Indexer.Save(ctx); err != nil {
			return rel, true, err
		}
	}
	return rel, changed, nil
}

// RemoveFile drops one path from the index and saves the snapshot
func (w *Workspace) RemoveFile(ctx context.Context, path string) (string, bool, error) {
	rel, err := w.Resolve(path)
	if err != nil {
		return "", false, err
	}
	removed := w.Indexer.RemoveFile(ctx, rel)
	if removed {
		if err := w.Indexer.Save(ctx); err != nil {
			return rel, true, err
		}
	}
	return rel, removed, nil
}

// Reindex rebuilds the index from disk and saves it
func (w *Workspace) Reindex(ctx context.Context) (*indexer.Statistics, error) {
	stats, err := w.Indexer.ReindexAll(ctx)
	if err != nil {
		return nil, err
	}
	return stats, w.Indexer.Save(ctx)
}

// Sync updates the index with what changed on disk and saves it
func (w *Workspace) Sync(ctx context.Context) (*indexer.Statistics, error) {
	stats, err := w.Indexer.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return stats, w.Indexer.Save(ctx)
}

// Clear empties the index and saves the empty snapshot
func (w *Workspace) Clear(ctx context.Context) error {
	if w.Indexer.Busy() {
		return indexer.ErrIndexBusy
	}
	w.Indexer.Clear()
	return w.Indexer.Save(ctx)
}

var (
	// ErrExcluded is returned for paths the filter does not index
	ErrExcluded = errors.New("path is excluded from indexing")
	// ErrInvalidPath is returned for empty paths and paths outside the root
	ErrInvalidPath = errors.New("invalid path")
)

// Resolve converts an absolute or root-relative path to an index key
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	rel, err := w.Filter.Rel(filepath.FromSlash(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return rel, nil
}

// Close releases the persister and the embedder
func (w *Workspace) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = errors.Join(w.Persister.Close(), w.Embedder.Close())
	})
	return err
}
