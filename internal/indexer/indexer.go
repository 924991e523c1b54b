package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeindex/internal/chunker"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/filter"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/pkg/types"
)

var (
	// ErrIndexBusy is returned when a full reindex or sync is already running
	ErrIndexBusy = errors.New("indexing already in progress")
	// ErrEmptyQuery is returned by Search for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNoFilter is returned by ReindexAll and Sync without a file filter
	ErrNoFilter = errors.New("no file filter configured")
	// ErrInconsistent reports a chunk/hash mismatch
	ErrInconsistent = errors.New("index is inconsistent")
)

// Chunker splits one file into chunks
type Chunker interface {
	CreateChunks(content, filePath string) []types.Chunk
}

// Dependencies are the collaborators of an Indexer
type Dependencies struct {
	Chunker   Chunker
	Embedder  embedder.Embedder
	Persister storage.Persister
	Logger    *slog.Logger

	// Filter discovers indexable files for ReindexAll and Sync
	Filter *filter.Filter
}

// Config contains configuration for the indexer
type Config struct {
	Workers   int // Number of files embedded concurrently (default: runtime.NumCPU())
	BatchSize int // Chunks per embedding request (default: embedder.DefaultBatchSize)

	// SkipLowSignal leaves chunks without letters or digits unembedded
	SkipLowSignal bool
}

// FileHashEntry records the content hash a file was last indexed at
type FileHashEntry struct {
	Hash      string
	IndexedAt time.Time
}

// Statistics contains statistics about a multi-file operation
type Statistics struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	FilesRemoved  int
	ChunksCreated int
	Duration      time.Duration
	ErrorMessages []string
}

// Status summarizes the current index contents
type Status struct {
	Files         int       `json:"files"`
	Chunks        int       `json:"chunks"`
	Embedded      int       `json:"embedded"`
	Generation    uint64    `json:"generation"`
	Busy          bool      `json:"busy"`
	LastIndexedAt time.Time `json:"lastIndexedAt,omitzero"`
	Location      string    `json:"location,omitempty"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Dimension     int       `json:"dimension"`
}

// Indexer is the in-memory chunk and file-hash store of one workspace.
// Chunks of one file are always replaced as a unit, so readers never see a file
// half removed.
type Indexer struct {
	chunker   Chunker
	embedder  embedder.Embedder
	persister storage.Persister
	filter    *filter.Filter
	logger    *slog.Logger

	workers       int
	batchSize     int
	skipLowSignal bool

	mu     sync.RWMutex
	chunks map[string][]types.Chunk
	hashes map[string]FileHashEntry

	generation atomic.Uint64
	lock       IndexLock
}

// New creates an indexer with explicit dependencies. Chunker and Embedder are required.
func New(deps Dependencies, cfg Config) (*Indexer, error) {
	if deps.Chunker == nil {
		return nil, errors.New("indexer: chunker is required")
	}
	if deps.Embedder == nil {
		return nil, errors.New("indexer: embedder is required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = embedder.DefaultBatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		chunker:       deps.Chunker,
		embedder:      deps.Embedder,
		persister:     deps.Persister,
		filter:        deps.Filter,
		logger:        logger.With("component", "indexer"),
		workers:       workers,
		batchSize:     batchSize,
		skipLowSignal: cfg.SkipLowSignal,
		chunks:        make(map[string][]types.Chunk),
		hashes:        make(map[string]FileHashEntry),
	}, nil
}

// Load replaces the in-memory state with the persisted snapshot. A missing or
// unreadable snapshot leaves the index empty and is not an error.
func (idx *Indexer) Load(ctx context.Context) error {
	if idx.persister == nil {
		return nil
	}

	snap, err := idx.persister.Load(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		idx.logger.Warn("snapshot unreadable, starting empty",
			"location", idx.persister.Location(), "error", err)
		snap = storage.NewSnapshot()
	}
	for _, note := range snap.Recovered {
		idx.logger.Warn("snapshot recovered", "location", idx.persister.Location(), "detail", note)
	}

	chunks := make(map[string][]types.Chunk)
	for _, chunk := range snap.Chunks {
		chunks[chunk.FilePath] = append(chunks[chunk.FilePath], chunk)
	}
	hashes := make(map[string]FileHashEntry, len(snap.FileHashes))
	for path, hash := range snap.FileHashes {
		hashes[path] = FileHashEntry{Hash: hash, IndexedAt: snap.IndexedAt[path]}
	}

	idx.mu.Lock()
	idx.chunks = chunks
	idx.hashes = hashes
	idx.mu.Unlock()
	idx.mutated()

	idx.logger.Info("index loaded",
		"files", len(hashes), "chunks", len(snap.Chunks), "location", idx.persister.Location())
	return nil
}

// Save persists the current chunks and file hashes
func (idx *Indexer) Save(ctx context.Context) error {
	if idx.persister == nil {
		return nil
	}

	snap := storage.NewSnapshot()
	idx.mu.RLock()
	for _, path := range idx.sortedPathsLocked() {
		snap.Chunks = append(snap.Chunks, idx.chunks[path]...)
		entry := idx.hashes[path]
		snap.FileHashes[path] = entry.Hash
		if !entry.IndexedAt.IsZero() {
			snap.IndexedAt[path] = entry.IndexedAt
		}
	}
	idx.mu.RUnlock()

	if err := idx.persister.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	idx.logger.Debug("index saved", "files", len(snap.FileHashes), "chunks", len(snap.Chunks))
	return nil
}

// AddFile indexes content as the new version of path. It returns false without
// embedding anything when the content hash matches the stored one. On failure the
// previous chunks of path are kept.
func (idx *Indexer) AddFile(ctx context.Context, path, content string) (bool, error) {
	_, changed, err := idx.addFile(ctx, path, content)
	return changed, err
}

func (idx *Indexer) addFile(ctx context.Context, path, content string) (int, bool, error) {
	hash := chunker.HashContent(content)

	idx.mu.RLock()
	entry, known := idx.hashes[path]
	idx.mu.RUnlock()
	if known && entry.Hash == hash {
		return 0, false, nil
	}

	chunks := idx.chunker.CreateChunks(content, path)
	if len(chunks) == 0 {
		// nothing to retrieve: the file is not recorded
		return 0, idx.RemoveFile(ctx, path), nil
	}

	if err := idx.embedChunks(ctx, chunks); err != nil {
		return 0, false, fmt.Errorf("failed to embed %s: %w", path, err)
	}

	idx.mu.Lock()
	idx.chunks[path] = chunks
	idx.hashes[path] = FileHashEntry{Hash: hash, IndexedAt: time.Now().UTC()}
	idx.mu.Unlock()
	idx.mutated(path)

	idx.logger.Debug("file indexed", "path", path, "chunks", len(chunks))
	return len(chunks), true, nil
}

// embedChunks attaches vectors to chunks in place, batchSize texts per request
func (idx *Indexer) embedChunks(ctx context.Context, chunks []types.Chunk) error {
	var (
		texts   []string
		targets []int
	)
	for i := range chunks {
		if strings.TrimSpace(chunks[i].Content) == "" {
			continue
		}
		if idx.skipLowSignal && chunker.IsLowSignal(chunks[i].Content) {
			continue
		}
		texts = append(texts, chunks[i].Content)
		targets = append(targets, i)
	}

	for start := 0; start < len(texts); start += idx.batchSize {
		end := min(start+idx.batchSize, len(texts))
		resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts[start:end]})
		if err != nil {
			return err
		}
		if len(resp.Embeddings) != end-start {
			return fmt.Errorf("%w: expected %d embeddings, got %d",
				embedder.ErrProviderFailed, end-start, len(resp.Embeddings))
		}
		for i, emb := range resp.Embeddings {
			if emb == nil || len(emb.Vector) == 0 {
				return fmt.Errorf("%w: empty embedding", embedder.ErrProviderFailed)
			}
			chunks[targets[start+i]].Embedding = emb.Vector
		}
	}
	return nil
}

// RemoveFile drops every chunk and the hash entry of path. It reports whether
// the path was indexed.
func (idx *Indexer) RemoveFile(_ context.Context, path string) bool {
	idx.mu.Lock()
	_, hadHash := idx.hashes[path]
	_, hadChunks := idx.chunks[path]
	delete(idx.hashes, path)
	delete(idx.chunks, path)
	idx.mu.Unlock()

	if !hadHash && !hadChunks {
		return false
	}
	idx.mutated(path)
	idx.logger.Debug("file removed", "path", path)
	return true
}

// Clear drops all chunks and hashes
func (idx *Indexer) Clear() {
	idx.mu.Lock()
	idx.chunks = make(map[string][]types.Chunk)
	idx.hashes = make(map[string]FileHashEntry)
	idx.mu.Unlock()
	idx.mutated()
}

// Search embeds query and ranks every stored chunk by cosine similarity. Chunks
// without an embedding rank last with types.UnembeddedScore. topK <= 0 returns
// every chunk.
func (idx *Indexer) Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	idx.mu.RLock()
	empty := len(idx.chunks) == 0
	idx.mu.RUnlock()
	if empty {
		return []types.SearchResult{}, nil
	}

	vector, err := embedder.Vector(ctx, idx.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idx.mu.RLock()
	var results []types.SearchResult
	for _, path := range idx.sortedPathsLocked() {
		for _, chunk := range idx.chunks[path] {
			score := types.UnembeddedScore
			if chunk.HasEmbedding() {
				score = storage.CosineSimilarity(vector, chunk.Embedding)
			}
			results = append(results, types.SearchResult{Chunk: chunk, Score: score})
		}
	}
	idx.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Chunk = results[i].Chunk.Clone()
		results[i].Rank = i + 1
	}
	return results, nil
}

// ReindexAll clears the index and indexes every file the filter accepts
func (idx *Indexer) ReindexAll(ctx context.Context) (*Statistics, error) {
	if idx.filter == nil {
		return nil, ErrNoFilter
	}
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexBusy
	}
	defer idx.lock.Release()

	start := time.Now()
	files, err := idx.filter.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	idx.Clear()
	stats := &Statistics{}
	if err := idx.indexFiles(ctx, files, stats); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)

	idx.logger.Info("reindex complete",
		"indexed", stats.FilesIndexed, "failed", stats.FilesFailed,
		"chunks", stats.ChunksCreated, "duration", stats.Duration)
	return stats, nil
}

// Sync brings the index up to date with the filesystem: changed and new files are
// indexed, unchanged files are skipped by hash and vanished files are removed.
func (idx *Indexer) Sync(ctx context.Context) (*Statistics, error) {
	if idx.filter == nil {
		return nil, ErrNoFilter
	}
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexBusy
	}
	defer idx.lock.Release()

	start := time.Now()
	files, err := idx.filter.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	present := make(map[string]bool, len(files))
	for _, file := range files {
		present[file] = true
	}
	stats := &Statistics{}
	for _, path := range idx.Paths() {
		if !present[path] && idx.RemoveFile(ctx, path) {
			stats.FilesRemoved++
		}
	}

	if err := idx.indexFiles(ctx, files, stats); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)

	idx.logger.Info("sync complete",
		"indexed", stats.FilesIndexed, "skipped", stats.FilesSkipped,
		"removed", stats.FilesRemoved, "failed", stats.FilesFailed, "duration", stats.Duration)
	return stats, nil
}

// indexFiles adds files concurrently. Per-file failures are recorded in stats;
// only cancellation aborts.
func (idx *Indexer) indexFiles(ctx context.Context, files []string, stats *Statistics) error {
	var (
		indexed int32
		skipped int32
		failed  int32
		chunks  int32
		mu      sync.Mutex // Protect stats.ErrorMessages
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, changed, err := idx.indexPath(gctx, path)
			switch {
			case err != nil:
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				atomic.AddInt32(&failed, 1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
				mu.Unlock()
				idx.logger.Warn("failed to index file", "path", path, "error", err)
			case changed:
				atomic.AddInt32(&indexed, 1)
				atomic.AddInt32(&chunks, int32(n))
			default:
				atomic.AddInt32(&skipped, 1)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats.FilesIndexed += int(indexed)
	stats.FilesSkipped += int(skipped)
	stats.FilesFailed += int(failed)
	stats.ChunksCreated += int(chunks)
	sort.Strings(stats.ErrorMessages)
	return err
}

// indexPath reads a root-relative file and adds it. Files rejected by the
// content rules count as skipped.
func (idx *Indexer) indexPath(ctx context.Context, path string) (int, bool, error) {
	content, err := os.ReadFile(idx.filter.Abs(path))
	if err != nil {
		return 0, false, err
	}
	if err := idx.filter.CheckContent(content); err != nil {
		idx.logger.Debug("file skipped", "path", path, "reason", err)
		return 0, false, nil
	}
	return idx.addFile(ctx, path, string(content))
}

// Busy reports whether a full reindex or sync is running
func (idx *Indexer) Busy() bool {
	return idx.lock.Held()
}

// Generation increases with every mutation of the index
func (idx *Indexer) Generation() uint64 {
	return idx.generation.Load()
}

// Paths returns the sorted indexed file paths
func (idx *Indexer) Paths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.sortedPathsLocked()
}

// FileChunks returns copies of the chunks stored for path
func (idx *Indexer) FileChunks(path string) []types.Chunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stored := idx.chunks[path]
	out := make([]types.Chunk, len(stored))
	for i, chunk := range stored {
		out[i] = chunk.Clone()
	}
	return out
}

// AllChunks returns every chunk in path order, without embeddings
func (idx *Indexer) AllChunks() []types.Chunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []types.Chunk
	for _, path := range idx.sortedPathsLocked() {
		for _, chunk := range idx.chunks[path] {
			chunk.Embedding = nil
			out = append(out, chunk)
		}
	}
	return out
}

// FileHash returns the hash entry of path
func (idx *Indexer) FileHash(path string) (FileHashEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entry, ok := idx.hashes[path]
	return entry, ok
}

// Stats summarizes the index
func (idx *Indexer) Stats() Status {
	status := Status{
		Generation: idx.Generation(),
		Busy:       idx.Busy(),
		Provider:   idx.embedder.Provider(),
		Model:      idx.embedder.Model(),
		Dimension:  idx.embedder.Dimension(),
	}
	if idx.persister != nil {
		status.Location = idx.persister.Location()
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	status.Files = len(idx.hashes)
	for _, chunks := range idx.chunks {
		status.Chunks += len(chunks)
		for i := range chunks {
			if chunks[i].HasEmbedding() {
				status.Embedded++
			}
		}
	}
	for _, entry := range idx.hashes {
		if entry.IndexedAt.After(status.LastIndexedAt) {
			status.LastIndexedAt = entry.IndexedAt
		}
	}
	return status
}

// CheckConsistency verifies that the hashed paths are exactly the paths with chunks
func (idx *Indexer) CheckConsistency() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for path := range idx.chunks {
		if err := idx.checkPathLocked(path); err != nil {
			return err
		}
	}
	for path := range idx.hashes {
		if _, ok := idx.chunks[path]; !ok {
			return fmt.Errorf("%w: %s has a hash but no chunks", ErrInconsistent, path)
		}
	}
	return nil
}

func (idx *Indexer) checkPathLocked(path string) error {
	chunks, hasChunks := idx.chunks[path]
	_, hasHash := idx.hashes[path]
	switch {
	case !hasChunks && !hasHash:
		return nil
	case !hasHash:
		return fmt.Errorf("%w: %s has chunks but no hash", ErrInconsistent, path)
	case len(chunks) == 0:
		return fmt.Errorf("%w: %s has a hash but no chunks", ErrInconsistent, path)
	}
	for i := range chunks {
		if chunks[i].FilePath != path {
			return fmt.Errorf("%w: chunk %s of %s belongs to %s",
				ErrInconsistent, chunks[i].ID, path, chunks[i].FilePath)
		}
	}
	return nil
}

// mutated bumps the generation and verifies the invariant for the given paths,
// or for the whole index when none are given
func (idx *Indexer) mutated(paths ...string) {
	idx.generation.Add(1)

	var err error
	if len(paths) == 0 {
		err = idx.CheckConsistency()
	} else {
		idx.mu.RLock()
		for _, path := range paths {
			if err = idx.checkPathLocked(path); err != nil {
				break
			}
		}
		idx.mu.RUnlock()
	}
	if err != nil {
		idx.logger.Error("consistency check failed", "error", err)
	}
}

func (idx *Indexer) sortedPathsLocked() []string {
	paths := make([]string, 0, len(idx.hashes))
	for path := range idx.hashes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
