package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/chunker"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/filter"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing. Texts mentioning alpha,
// beta or gamma map to orthogonal axes; anything else to a fourth axis.
type mockEmbedder struct {
	mu        sync.Mutex
	texts     int
	calls     int
	failOn    string
	failErr   error
	dimension int
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: 4}
}

func (m *mockEmbedder) vector(text string) []float32 {
	v := make([]float32, m.dimension)
	switch {
	case strings.Contains(text, "alpha"):
		v[0] = 1
	case strings.Contains(text, "beta"):
		v[1] = 1
	case strings.Contains(text, "gamma"):
		v[2] = 1
	default:
		v[3] = 1
	}
	return v
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, fmt.Errorf("%w: %v", embedder.ErrProviderFailed, m.failErr)
		}
		embeddings[i] = &embedder.Embedding{
			Vector:    m.vector(text),
			Dimension: m.dimension,
			Provider:  "mock",
			Model:     "test-v1",
			Hash:      embedder.ComputeHash(text),
		}
	}
	m.texts += len(req.Texts)

	return &embedder.BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   "mock",
		Model:      "test-v1",
	}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) failWhen(substr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = substr
	m.failErr = errors.New("quota exceeded")
}

func (m *mockEmbedder) embeddedTexts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type testEnv struct {
	idx      *Indexer
	emb      *mockEmbedder
	root     string
	location string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	root := t.TempDir()
	files, err := filter.New(root, filter.Config{})
	require.NoError(t, err)
	chunk, err := chunker.New(chunker.DefaultConfig(), nil)
	require.NoError(t, err)

	location := filepath.Join(root, storage.DefaultDir, storage.JSONFileName)
	emb := newMockEmbedder()
	idx, err := New(Dependencies{
		Chunker:   chunk,
		Embedder:  emb,
		Persister: storage.NewFilePersister(location),
		Filter:    files,
	}, cfg)
	require.NoError(t, err)

	return &testEnv{idx: idx, emb: emb, root: root, location: location}
}

// reopen builds a second indexer over the same workspace
func (e *testEnv) reopen(t *testing.T) *Indexer {
	t.Helper()
	files, err := filter.New(e.root, filter.Config{})
	require.NoError(t, err)
	chunk, err := chunker.New(chunker.DefaultConfig(), nil)
	require.NoError(t, err)

	idx, err := New(Dependencies{
		Chunker:   chunk,
		Embedder:  e.emb,
		Persister: storage.NewFilePersister(e.location),
		Filter:    files,
	}, Config{})
	require.NoError(t, err)
	return idx
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// goSource returns a Go file with one function of n body lines that mentions word
func goSource(word string, n int) string {
	var sb strings.Builder
	sb.WriteString("package demo\n\n")
	fmt.Fprintf(&sb, "func %sHandler(x int) int {\n", word)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "\tx = x + %d // %s\n", i, word)
	}
	sb.WriteString("\treturn x\n}\n")
	return sb.String()
}

func TestNew(t *testing.T) {
	chunk, err := chunker.New(chunker.DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = New(Dependencies{Embedder: newMockEmbedder()}, Config{})
	assert.Error(t, err)
	_, err = New(Dependencies{Chunker: chunk}, Config{})
	assert.Error(t, err)

	idx, err := New(Dependencies{Chunker: chunk, Embedder: newMockEmbedder()}, Config{})
	require.NoError(t, err)
	assert.Positive(t, idx.workers)
	assert.Equal(t, embedder.DefaultBatchSize, idx.batchSize)
	assert.False(t, idx.Busy())
}

func TestAddFile_Idempotent(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	content := goSource("alpha", 12)

	changed, err := env.idx.AddFile(ctx, "a.go", content)
	require.NoError(t, err)
	assert.True(t, changed)
	calls := env.emb.callCount()
	assert.Positive(t, calls)
	before := env.idx.FileChunks("a.go")
	require.NotEmpty(t, before)

	changed, err = env.idx.AddFile(ctx, "a.go", content)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, calls, env.emb.callCount(), "unchanged content must not be embedded again")
	assert.Equal(t, before, env.idx.FileChunks("a.go"))

	entry, ok := env.idx.FileHash("a.go")
	require.True(t, ok)
	assert.Equal(t, chunker.HashContent(content), entry.Hash)
	assert.False(t, entry.IndexedAt.IsZero())
}

func TestAddFile_ChangedContentReplacesChunks(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.idx.AddFile(ctx, "a.go", goSource("alpha", 40))
	require.NoError(t, err)
	gen := env.idx.Generation()

	changed, err := env.idx.AddFile(ctx, "a.go", goSource("beta", 8))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Greater(t, env.idx.Generation(), gen)

	for _, chunk := range env.idx.FileChunks("a.go") {
		assert.NotContains(t, chunk.Content, "alpha")
		assert.LessOrEqual(t, chunk.EndLine, 13)
	}
	assert.NoError(t, env.idx.CheckConsistency())
}

func TestAddFile_EmbedFailureKeepsPreviousChunks(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	original := goSource("alpha", 10)
	_, err := env.idx.AddFile(ctx, "a.go", original)
	require.NoError(t, err)
	_, err = env.idx.AddFile(ctx, "b.go", goSource("gamma", 10))
	require.NoError(t, err)
	before := env.idx.FileChunks("a.go")

	env.emb.failWhen("beta")
	changed, err := env.idx.AddFile(ctx, "a.go", goSource("beta", 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, embedder.ErrProviderFailed)
	assert.False(t, changed)

	assert.Equal(t, before, env.idx.FileChunks("a.go"))
	entry, _ := env.idx.FileHash("a.go")
	assert.Equal(t, chunker.HashContent(original), entry.Hash)
	assert.NotEmpty(t, env.idx.FileChunks("b.go"), "other files are untouched")
	assert.NoError(t, env.idx.CheckConsistency())
}

func TestAddFile_BlankContentIsNotRecorded(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	changed, err := env.idx.AddFile(ctx, "empty.go", "  \n\n")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, env.idx.Paths())

	_, err = env.idx.AddFile(ctx, "a.go", goSource("alpha", 6))
	require.NoError(t, err)
	changed, err = env.idx.AddFile(ctx, "a.go", "")
	require.NoError(t, err)
	assert.True(t, changed, "emptying a file drops its chunks")
	assert.Empty(t, env.idx.Paths())
	assert.Equal(t, 1, env.emb.callCount())
}

func TestAddFile_BatchSize(t *testing.T) {
	env := newTestEnv(t, Config{BatchSize: 2})
	ctx := context.Background()

	_, err := env.idx.AddFile(ctx, "big.go", goSource("alpha", 200))
	require.NoError(t, err)

	chunks := env.idx.FileChunks("big.go")
	require.Greater(t, len(chunks), 2)
	assert.Equal(t, len(chunks), env.emb.embeddedTexts())
	assert.Equal(t, (len(chunks)+1)/2, env.emb.callCount())
}

func TestAddFile_SkipLowSignal(t *testing.T) {
	ctx := context.Background()

	uniform := newTestEnv(t, Config{})
	_, err := uniform.idx.AddFile(ctx, "braces.js", "{\n}\n")
	require.NoError(t, err)
	assert.Equal(t, 1, uniform.emb.embeddedTexts(), "every chunk is embedded by default")

	skipping := newTestEnv(t, Config{SkipLowSignal: true})
	_, err = skipping.idx.AddFile(ctx, "braces.js", "{\n}\n")
	require.NoError(t, err)
	assert.Zero(t, skipping.emb.embeddedTexts())

	chunks := skipping.idx.FileChunks("braces.js")
	require.Len(t, chunks, 1)
	assert.False(t, chunks[0].HasEmbedding())
}

func TestRemoveFile(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.idx.AddFile(ctx, "a.go", goSource("alpha", 6))
	require.NoError(t, err)

	assert.True(t, env.idx.RemoveFile(ctx, "a.go"))
	assert.False(t, env.idx.RemoveFile(ctx, "a.go"))
	assert.Empty(t, env.idx.FileChunks("a.go"))
	_, ok := env.idx.FileHash("a.go")
	assert.False(t, ok)
	assert.NoError(t, env.idx.CheckConsistency())
}

func TestClear(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.idx.AddFile(ctx, "a.go", goSource("alpha", 6))
	require.NoError(t, err)
	env.idx.Clear()

	status := env.idx.Stats()
	assert.Zero(t, status.Files)
	assert.Zero(t, status.Chunks)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, Config{SkipLowSignal: true})
	ctx := context.Background()

	for path, content := range map[string]string{
		"a.go":      "alpha one\n",
		"b.go":      "beta two\n",
		"c.go":      "gamma three\n",
		"braces.js": "{}\n",
	} {
		_, err := env.idx.AddFile(ctx, path, content)
		require.NoError(t, err)
	}

	t.Run("ranks by cosine similarity", func(t *testing.T) {
		results, err := env.idx.Search(ctx, "alpha", 10)
		require.NoError(t, err)
		require.Len(t, results, 4)

		assert.Equal(t, "a.go", results[0].Chunk.FilePath)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, 1, results[0].Rank)
		assert.InDelta(t, 0.0, results[1].Score, 1e-6)

		last := results[len(results)-1]
		assert.Equal(t, "braces.js", last.Chunk.FilePath)
		assert.Equal(t, types.UnembeddedScore, last.Score)
		assert.Equal(t, 4, last.Rank)
	})

	t.Run("ties keep path order", func(t *testing.T) {
		results, err := env.idx.Search(ctx, "alpha", 10)
		require.NoError(t, err)
		assert.Equal(t, "b.go", results[1].Chunk.FilePath)
		assert.Equal(t, "c.go", results[2].Chunk.FilePath)
	})

	t.Run("topK", func(t *testing.T) {
		results, err := env.idx.Search(ctx, "gamma", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "c.go", results[0].Chunk.FilePath)

		all, err := env.idx.Search(ctx, "gamma", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("results are copies", func(t *testing.T) {
		results, err := env.idx.Search(ctx, "alpha", 1)
		require.NoError(t, err)
		results[0].Chunk.Embedding[0] = 42

		again, err := env.idx.Search(ctx, "alpha", 1)
		require.NoError(t, err)
		assert.Equal(t, float32(1), again[0].Chunk.Embedding[0])
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := env.idx.Search(ctx, "   ", 5)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})
}

func TestSearch_EmptyIndex(t *testing.T) {
	env := newTestEnv(t, Config{})

	results, err := env.idx.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, env.emb.callCount())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.idx.AddFile(ctx, "a.go", goSource("alpha", 80))
	require.NoError(t, err)
	_, err = env.idx.AddFile(ctx, "pkg/b.go", goSource("beta", 6))
	require.NoError(t, err)
	require.NoError(t, env.idx.Save(ctx))

	loaded := env.reopen(t)
	require.NoError(t, loaded.Load(ctx))

	assert.Equal(t, env.idx.Paths(), loaded.Paths())
	for _, path := range env.idx.Paths() {
		want, _ := env.idx.FileHash(path)
		got, ok := loaded.FileHash(path)
		require.True(t, ok)
		assert.Equal(t, want.Hash, got.Hash)
		assert.True(t, want.IndexedAt.Equal(got.IndexedAt))
		assert.Equal(t, env.idx.FileChunks(path), loaded.FileChunks(path))
	}
	assert.NoError(t, loaded.CheckConsistency())

	// a loaded index still skips unchanged files
	calls := env.emb.callCount()
	changed, err := loaded.AddFile(ctx, "a.go", goSource("alpha", 80))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, calls, env.emb.callCount())
}

func TestLoad_MissingOrCorruptSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	require.NoError(t, env.idx.Load(ctx))
	assert.Empty(t, env.idx.Paths())

	require.NoError(t, os.MkdirAll(filepath.Dir(env.location), 0o755))
	require.NoError(t, os.WriteFile(env.location, []byte("{not json"), 0o644))
	require.NoError(t, env.idx.Load(ctx))
	assert.Empty(t, env.idx.Paths())
}

func TestEndToEnd_LongFunction(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	var sb strings.Builder
	sb.WriteString("/**\n")
	for i := 0; i < 48; i++ {
		fmt.Fprintf(&sb, " * Documentation line %d\n", i)
	}
	sb.WriteString(" */\n")
	sb.WriteString("function process(input) {\n")
	for i := 0; i < 248; i++ {
		fmt.Fprintf(&sb, "  input = transform%d(input);\n", i)
	}
	sb.WriteString("}\n")
	content := sb.String()
	writeFile(t, env.root, "src/process.js", content)

	stats, err := env.idx.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	require.NoError(t, env.idx.Save(ctx))

	chunks := env.idx.FileChunks("src/process.js")
	var summary, functions, gaps int
	for _, chunk := range chunks {
		switch chunk.Level {
		case types.LevelFile:
			summary++
		case types.LevelFunction:
			functions++
			assert.LessOrEqual(t, chunk.LineCount(), chunker.DefaultMaxChunkSize)
			assert.Equal(t, "process", chunk.SymbolName)
			assert.Equal(t, "process", chunk.ParentSymbol)
		case types.LevelBlock:
			gaps++
		}
		assert.True(t, chunk.HasEmbedding())
	}
	assert.Equal(t, 1, summary)
	// ceil((250 - 10) / (60 - 10))
	assert.Equal(t, 5, functions)
	assert.Zero(t, gaps)

	snap, err := storage.NewFilePersister(env.location).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunker.HashContent(content), snap.FileHashes["src/process.js"])
	assert.Len(t, snap.Chunks, len(chunks))
}

func TestReindexAll(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 2})
	ctx := context.Background()

	writeFile(t, env.root, "a.go", goSource("alpha", 6))
	writeFile(t, env.root, "app/b.py", "def beta():\n    return 1\n")
	writeFile(t, env.root, "node_modules/x/index.js", "module.exports = 1\n")
	writeFile(t, env.root, "blob.go", "package x\x00\x01")

	// stale entry that no longer exists on disk
	_, err := env.idx.AddFile(ctx, "gone.go", goSource("gamma", 6))
	require.NoError(t, err)

	stats, err := env.idx.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped, "binary content is skipped")
	assert.Zero(t, stats.FilesFailed)
	assert.Positive(t, stats.ChunksCreated)
	assert.Equal(t, []string{"a.go", "app/b.py"}, env.idx.Paths())
	assert.False(t, env.idx.Busy())
}

func TestReindexAll_CollectsFailures(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	writeFile(t, env.root, "a.go", goSource("alpha", 6))
	writeFile(t, env.root, "b.go", goSource("beta", 6))
	env.emb.failWhen("beta")

	stats, err := env.idx.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "b.go")
	assert.Equal(t, []string{"a.go"}, env.idx.Paths())
}

func TestReindexAll_Busy(t *testing.T) {
	env := newTestEnv(t, Config{})

	require.True(t, env.idx.lock.TryAcquire())
	assert.True(t, env.idx.Busy())

	_, err := env.idx.ReindexAll(context.Background())
	assert.ErrorIs(t, err, ErrIndexBusy)
	_, err = env.idx.Sync(context.Background())
	assert.ErrorIs(t, err, ErrIndexBusy)

	env.idx.lock.Release()
	assert.False(t, env.idx.Busy())
}

func TestReindexAll_NoFilter(t *testing.T) {
	chunk, err := chunker.New(chunker.DefaultConfig(), nil)
	require.NoError(t, err)
	idx, err := New(Dependencies{Chunker: chunk, Embedder: newMockEmbedder()}, Config{})
	require.NoError(t, err)

	_, err = idx.ReindexAll(context.Background())
	assert.ErrorIs(t, err, ErrNoFilter)
}

func TestReindexAll_Cancelled(t *testing.T) {
	env := newTestEnv(t, Config{})
	writeFile(t, env.root, "a.go", goSource("alpha", 6))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.idx.ReindexAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, env.idx.Busy())
}

func TestSync(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	writeFile(t, env.root, "a.go", goSource("alpha", 6))
	writeFile(t, env.root, "b.go", goSource("beta", 6))
	_, err := env.idx.Sync(ctx)
	require.NoError(t, err)
	calls := env.emb.callCount()

	writeFile(t, env.root, "b.go", goSource("beta", 9))
	writeFile(t, env.root, "c.go", goSource("gamma", 6))
	require.NoError(t, os.Remove(filepath.Join(env.root, "a.go")))

	stats, err := env.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesSkipped)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, []string{"b.go", "c.go"}, env.idx.Paths())
	assert.Equal(t, calls+2, env.emb.callCount())

	stats, err = env.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesSkipped)
	assert.Zero(t, stats.FilesIndexed)
	assert.Equal(t, calls+2, env.emb.callCount())
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.idx.AddFile(ctx, "a.go", goSource("alpha", 6))
	require.NoError(t, err)

	status := env.idx.Stats()
	assert.Equal(t, 1, status.Files)
	assert.Equal(t, len(env.idx.FileChunks("a.go")), status.Chunks)
	assert.Equal(t, status.Chunks, status.Embedded)
	assert.Equal(t, "mock", status.Provider)
	assert.Equal(t, 4, status.Dimension)
	assert.Equal(t, env.location, status.Location)
	assert.False(t, status.LastIndexedAt.IsZero())
}

func TestCheckConsistency_DetectsMismatch(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.idx.mu.Lock()
	env.idx.hashes["orphan.go"] = FileHashEntry{Hash: "x"}
	env.idx.mu.Unlock()
	assert.ErrorIs(t, env.idx.CheckConsistency(), ErrInconsistent)

	env.idx.mu.Lock()
	delete(env.idx.hashes, "orphan.go")
	env.idx.chunks["stray.go"] = []types.Chunk{{ID: "1", FilePath: "other.go"}}
	env.idx.mu.Unlock()
	assert.ErrorIs(t, env.idx.CheckConsistency(), ErrInconsistent)
}

func TestConcurrentSearchDuringAdd(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.idx.AddFile(ctx, "a.go", goSource("alpha", 30))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = env.idx.AddFile(ctx, "a.go", goSource("alpha", 30+i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			results, err := env.idx.Search(ctx, "alpha", 0)
			assert.NoError(t, err)
			// a file is never observed half replaced
			ends := make(map[int]bool)
			for _, r := range results {
				ends[r.Chunk.EndLine] = true
			}
			assert.NotEmpty(t, ends)
		}
	}()
	wg.Wait()
	assert.NoError(t, env.idx.CheckConsistency())
}
