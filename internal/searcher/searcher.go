package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/pkg/types"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeVector  SearchMode = "vector"  // Cosine similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 over chunk tokens only
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + keyword with RRF
)

const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultCacheSize = 1000

	// rrfConstant is the k of Reciprocal Rank Fusion
	rrfConstant = 60.0

	bm25K1 = 1.2
	bm25B  = 0.75
)

var (
	// ErrEmptyQuery is returned for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrInvalidRequest is returned for out-of-range request fields
	ErrInvalidRequest = errors.New("invalid search request")
)

// Store is the index the searcher ranks over
type Store interface {
	Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error)
	AllChunks() []types.Chunk
	Generation() uint64
}

// Request contains parameters for a search operation
type Request struct {
	Query string
	Limit int // 1..100, default 10
	Mode  SearchMode

	// MinScore drops results scoring below it; zero disables the filter. Scores are
	// cosine similarities in vector and hybrid mode and normalized BM25 in keyword mode.
	MinScore float64

	// Levels restricts results to the given chunk levels
	Levels []types.ChunkLevel

	// PathGlob restricts results to files matching a gitignore-style pattern
	PathGlob string
}

// Response contains search results and metadata
type Response struct {
	Results      []types.SearchResult
	TotalMatches int // matches before the limit was applied
	Mode         SearchMode
	Duration     time.Duration
	CacheHit     bool
}

type cacheKey struct {
	query      [32]byte
	generation uint64
}

// Searcher validates requests, applies filters and caches responses. Cache entries
// are keyed on the store generation, so any index mutation invalidates them.
type Searcher struct {
	store Store
	cache *lru.Cache[cacheKey, *Response] // safe for concurrent use
}

// New creates a new Searcher. cacheSize <= 0 selects DefaultCacheSize.
func New(store Store, cacheSize int) *Searcher {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, *Response](cacheSize)
	if err != nil {
		// only fails for non-positive sizes
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{store: store, cache: cache}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	var match func(string) bool
	if req.PathGlob != "" {
		match = gitignore.CompileIgnoreLines(req.PathGlob).MatchesPath
	}

	key := cacheKey{query: computeQueryHash(req), generation: s.store.Generation()}
	if cached, ok := s.cache.Get(key); ok {
		resp := copyResponse(cached)
		resp.CacheHit = true
		resp.Duration = time.Since(start)
		return resp, nil
	}

	var (
		ranked []types.SearchResult
		err    error
	)
	switch req.Mode {
	case SearchModeVector:
		ranked, err = s.store.Search(ctx, req.Query, 0)
	case SearchModeKeyword:
		ranked = keywordRank(req.Query, s.store.AllChunks())
	case SearchModeHybrid:
		ranked, err = s.store.Search(ctx, req.Query, 0)
		if err == nil {
			ranked = fuse(ranked, keywordRank(req.Query, s.store.AllChunks()))
		}
	}
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, req.Limit)
	total := 0
	for _, r := range ranked {
		if (req.MinScore != 0 && r.Score < req.MinScore) || !levelAllowed(r.Chunk.Level, req.Levels) {
			continue
		}
		if match != nil && !match(r.Chunk.FilePath) {
			continue
		}
		total++
		if len(results) < req.Limit {
			r.Rank = len(results) + 1
			results = append(results, r)
		}
	}

	resp := &Response{
		Results:      results,
		TotalMatches: total,
		Mode:         req.Mode,
	}
	s.cache.Add(key, copyResponse(resp))

	resp.Duration = time.Since(start)
	return resp, nil
}

// Purge drops every cached response
func (s *Searcher) Purge() {
	s.cache.Purge()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	return s.cache.Len()
}

// validateRequest normalizes defaults and rejects invalid fields
func validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Mode == "" {
		req.Mode = SearchModeVector
	}
	switch req.Mode {
	case SearchModeVector, SearchModeKeyword, SearchModeHybrid:
	default:
		return fmt.Errorf("%w: unsupported search mode %q", ErrInvalidRequest, req.Mode)
	}

	if math.IsNaN(req.MinScore) || req.MinScore < -1 || req.MinScore > 1 {
		return fmt.Errorf("%w: min score %v must be in [-1, 1]", ErrInvalidRequest, req.MinScore)
	}

	for _, level := range req.Levels {
		c := types.Chunk{Level: level}
		if err := c.ValidateLevel(); err != nil {
			return fmt.Errorf("%w: %v %d", ErrInvalidRequest, err, int(level))
		}
	}

	return nil
}

func levelAllowed(level types.ChunkLevel, levels []types.ChunkLevel) bool {
	if len(levels) == 0 {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// keywordRank scores chunks with BM25 over identifier tokens and normalizes the
// scores to [0, 1]. Chunks sharing no token with the query are omitted.
func keywordRank(query string, chunks []types.Chunk) []types.SearchResult {
	terms := uniqueTokens(query)
	if len(terms) == 0 || len(chunks) == 0 {
		return nil
	}

	docs := make([]map[string]int, len(chunks))
	df := make(map[string]int)
	totalLen := 0
	for i := range chunks {
		tf := make(map[string]int)
		tokens := embedder.Tokenize(chunks[i].Content)
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			df[term]++
		}
		docs[i] = tf
		totalLen += len(tokens)
	}
	avgLen := float64(totalLen) / float64(len(chunks))
	if avgLen == 0 {
		return nil
	}

	n := float64(len(chunks))
	var results []types.SearchResult
	best := 0.0
	for i, tf := range docs {
		docLen := 0
		for _, c := range tf {
			docLen += c
		}
		score := 0.0
		for _, term := range terms {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
			score += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*float64(docLen)/avgLen))
		}
		if score <= 0 {
			continue
		}
		best = max(best, score)
		results = append(results, types.SearchResult{Chunk: chunks[i], Score: score})
	}

	for i := range results {
		results[i].Score /= best
	}
	sortByScore(results)
	return results
}

// fuse merges the vector ranking with the keyword ranking using Reciprocal Rank
// Fusion: rrf(d) = Σ 1/(k + rank(d)). Results keep their cosine score.
func fuse(vector, keyword []types.SearchResult) []types.SearchResult {
	fused := make(map[string]float64, len(vector))
	for rank, r := range vector {
		fused[r.Chunk.ID] += 1.0 / (rrfConstant + float64(rank+1))
	}
	for rank, r := range keyword {
		fused[r.Chunk.ID] += 1.0 / (rrfConstant + float64(rank+1))
	}

	out := append([]types.SearchResult(nil), vector...)
	sort.SliceStable(out, func(i, j int) bool {
		return fused[out[i].Chunk.ID] > fused[out[j].Chunk.ID]
	})
	return out
}

func uniqueTokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range embedder.Tokenize(text) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// sortByScore sorts results by score in descending order, keeping input order on ties
func sortByScore(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// copyResponse creates a deep copy so cached entries cannot be modified by callers
func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		r.Chunk = r.Chunk.Clone()
		dst.Results[i] = r
	}
	return &dst
}

// computeQueryHash computes a unique hash for a normalized search request
func computeQueryHash(req Request) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Limit))
	data.WriteString("|")
	data.WriteString(strconv.FormatFloat(req.MinScore, 'g', -1, 64))
	data.WriteString("|")
	levels := make([]string, len(req.Levels))
	for i, l := range req.Levels {
		levels[i] = strconv.Itoa(int(l))
	}
	sort.Strings(levels)
	data.WriteString(strings.Join(levels, ","))
	data.WriteString("|")
	data.WriteString(req.PathGlob)

	return sha256.Sum256([]byte(data.String()))
}
