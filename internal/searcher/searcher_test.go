package searcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/pkg/types"
)

// fakeStore returns a fixed vector ranking
type fakeStore struct {
	mu         sync.Mutex
	ranking    []types.SearchResult
	generation uint64
	calls      int
	err        error
}

func (f *fakeStore) Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.SearchResult, len(f.ranking))
	for i, r := range f.ranking {
		r.Chunk = r.Chunk.Clone()
		out[i] = r
	}
	return out, nil
}

func (f *fakeStore) AllChunks() []types.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Chunk, len(f.ranking))
	for i, r := range f.ranking {
		out[i] = r.Chunk
		out[i].Embedding = nil
	}
	return out
}

func (f *fakeStore) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

func (f *fakeStore) bump() {
	f.mu.Lock()
	f.generation++
	f.mu.Unlock()
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func result(id, path string, level types.ChunkLevel, score float64, content string) types.SearchResult {
	return types.SearchResult{
		Chunk: types.Chunk{
			ID:        id,
			FilePath:  path,
			Content:   content,
			StartLine: 1,
			EndLine:   5,
			Level:     level,
			Embedding: []float32{1, 0},
		},
		Score: score,
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{ranking: []types.SearchResult{
		result("1", "internal/auth/token.go", types.LevelFunction, 0.9, "func parseToken(raw string) (*Token, error)"),
		result("2", "internal/auth/doc.go", types.LevelFile, 0.7, "Package auth validates session tokens"),
		result("3", "cmd/server/main.go", types.LevelFunction, 0.4, "func main() { serve(config) }"),
		result("4", "web/app.ts", types.LevelClass, -0.2, "class App { render() {} }"),
		result("5", "internal/auth/empty.go", types.LevelBlock, types.UnembeddedScore, "}"),
	}}
}

func paths(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.FilePath
	}
	return out
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantErr   error
		wantLimit int
		wantMode  SearchMode
	}{
		{name: "defaults", req: Request{Query: "q"}, wantLimit: DefaultLimit, wantMode: SearchModeVector},
		{name: "limit clamped", req: Request{Query: "q", Limit: 500}, wantLimit: MaxLimit, wantMode: SearchModeVector},
		{name: "keyword mode", req: Request{Query: "q", Limit: 3, Mode: SearchModeKeyword}, wantLimit: 3, wantMode: SearchModeKeyword},
		{name: "blank query", req: Request{Query: "  \t"}, wantErr: ErrEmptyQuery},
		{name: "unknown mode", req: Request{Query: "q", Mode: "fuzzy"}, wantErr: ErrInvalidRequest},
		{name: "min score range", req: Request{Query: "q", MinScore: 1.5}, wantErr: ErrInvalidRequest},
		{name: "bad level", req: Request{Query: "q", Levels: []types.ChunkLevel{7}}, wantErr: ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := validateRequest(&req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, req.Limit)
			assert.Equal(t, tt.wantMode, req.Mode)
		})
	}
}

func TestSearch_VectorFilters(t *testing.T) {
	store := newFakeStore()
	s := New(store, 0)
	ctx := context.Background()

	t.Run("no filters keeps store order", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{Query: "token"})
		require.NoError(t, err)
		assert.Len(t, resp.Results, 5)
		assert.Equal(t, 5, resp.TotalMatches)
		assert.Equal(t, types.UnembeddedScore, resp.Results[4].Score)
		for i, r := range resp.Results {
			assert.Equal(t, i+1, r.Rank)
		}
	})

	t.Run("limit", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{Query: "token", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, resp.Results, 2)
		assert.Equal(t, 5, resp.TotalMatches)
	})

	t.Run("min score", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{Query: "token", MinScore: 0.5})
		require.NoError(t, err)
		assert.Equal(t, []string{"internal/auth/token.go", "internal/auth/doc.go"}, paths(resp.Results))
	})

	t.Run("levels", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{Query: "token", Levels: []types.ChunkLevel{types.LevelFunction}})
		require.NoError(t, err)
		assert.Equal(t, []string{"internal/auth/token.go", "cmd/server/main.go"}, paths(resp.Results))
	})

	t.Run("path glob", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{Query: "token", PathGlob: "internal/auth/**"})
		require.NoError(t, err)
		assert.Equal(t, []string{"internal/auth/token.go", "internal/auth/doc.go", "internal/auth/empty.go"}, paths(resp.Results))

		resp, err = s.Search(ctx, Request{Query: "token", PathGlob: "*.ts"})
		require.NoError(t, err)
		assert.Equal(t, []string{"web/app.ts"}, paths(resp.Results))
	})
}

func TestSearch_Cache(t *testing.T) {
	store := newFakeStore()
	s := New(store, 10)
	ctx := context.Background()

	first, err := s.Search(ctx, Request{Query: "token"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, store.callCount())

	second, err := s.Search(ctx, Request{Query: "  token "})
	require.NoError(t, err)
	assert.True(t, second.CacheHit, "normalized queries share a cache entry")
	assert.Equal(t, 1, store.callCount())
	assert.Equal(t, first.Results, second.Results)

	// cached responses are copies
	second.Results[0].Chunk.Embedding[0] = 42
	third, err := s.Search(ctx, Request{Query: "token"})
	require.NoError(t, err)
	assert.Equal(t, float32(1), third.Results[0].Chunk.Embedding[0])

	// different filters miss
	_, err = s.Search(ctx, Request{Query: "token", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, store.callCount())

	// any index mutation invalidates
	store.bump()
	resp, err := s.Search(ctx, Request{Query: "token"})
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 3, store.callCount())

	s.Purge()
	assert.Zero(t, s.CacheLen())
}

func TestSearch_ConcurrentCache(t *testing.T) {
	store := newFakeStore()
	s := New(store, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queries := []string{"token", "auth", "main", "render", "serve"}
			for j := range 50 {
				if j%10 == 0 && i == 0 {
					store.bump()
				}
				resp, err := s.Search(ctx, Request{Query: queries[(i+j)%len(queries)], Mode: SearchModeHybrid})
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, resp.Results, 5)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, s.CacheLen(), 4)
}

func TestSearch_StoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("embedding provider down")
	s := New(store, 0)

	_, err := s.Search(context.Background(), Request{Query: "token"})
	assert.EqualError(t, err, "embedding provider down")
	assert.Zero(t, s.CacheLen(), "errors are not cached")
}

func TestSearch_Keyword(t *testing.T) {
	store := newFakeStore()
	s := New(store, 0)

	resp, err := s.Search(context.Background(), Request{Query: "parseToken", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Zero(t, store.callCount(), "keyword mode never embeds the query")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "internal/auth/token.go", resp.Results[0].Chunk.FilePath)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	for _, r := range resp.Results {
		assert.Positive(t, r.Score)
	}
}

func TestSearch_Hybrid(t *testing.T) {
	store := newFakeStore()
	s := New(store, 0)

	// "render" only appears in the App class, which the vector ranking puts fourth
	resp, err := s.Search(context.Background(), Request{Query: "render", Mode: SearchModeHybrid})
	require.NoError(t, err)
	require.Len(t, resp.Results, 5)
	assert.Equal(t, "web/app.ts", resp.Results[0].Chunk.FilePath)
	assert.InDelta(t, -0.2, resp.Results[0].Score, 1e-9, "hybrid keeps the cosine score")
	assert.Equal(t, SearchModeHybrid, resp.Mode)
}

func TestKeywordRank(t *testing.T) {
	chunks := []types.Chunk{
		{ID: "a", Content: "load config file from disk"},
		{ID: "b", Content: "config config config"},
		{ID: "c", Content: "unrelated text"},
	}

	results := keywordRank("config", chunks)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Less(t, results[1].Score, 1.0)

	assert.Empty(t, keywordRank("x", chunks), "single-character tokens are ignored")
	assert.Empty(t, keywordRank("config", nil))
}

func TestComputeQueryHash(t *testing.T) {
	base := Request{Query: "q", Limit: 10, Mode: SearchModeVector}
	same := base
	same.Levels = nil

	assert.Equal(t, computeQueryHash(base), computeQueryHash(same))

	ordered := base
	ordered.Levels = []types.ChunkLevel{types.LevelFunction, types.LevelClass}
	reversed := base
	reversed.Levels = []types.ChunkLevel{types.LevelClass, types.LevelFunction}
	assert.Equal(t, computeQueryHash(ordered), computeQueryHash(reversed))

	for _, changed := range []Request{
		{Query: "other", Limit: 10, Mode: SearchModeVector},
		{Query: "q", Limit: 11, Mode: SearchModeVector},
		{Query: "q", Limit: 10, Mode: SearchModeHybrid},
		{Query: "q", Limit: 10, Mode: SearchModeVector, MinScore: 0.3},
		{Query: "q", Limit: 10, Mode: SearchModeVector, PathGlob: "*.go"},
	} {
		assert.NotEqual(t, computeQueryHash(base), computeQueryHash(changed))
	}
}
