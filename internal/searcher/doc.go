// Package searcher is the retrieval adapter over the index: it validates
// requests, applies result filters and caches responses.
//
// # Basic Usage
//
//	s := searcher.New(idx, 0)
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:    "where is the snapshot written",
//	    Limit:    10,
//	    PathGlob: "internal/**",
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.2f %s:%d-%d\n",
//	        r.Rank, r.Score, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine)
//	}
//
// # Search Modes
//
//   - vector (default): cosine similarity between the query embedding and every
//     stored chunk embedding
//   - keyword: BM25 over identifier tokens, no embedding call
//   - hybrid: the vector ranking reordered by Reciprocal Rank Fusion with the
//     keyword ranking (k = 60); results keep their cosine score
//
// # Filtering
//
// Levels keeps only chunks at the given hierarchy levels, PathGlob keeps files
// matching a gitignore-style pattern and MinScore drops low scores. Limit is
// clamped to [1, 100] and defaults to 10.
//
// # Caching
//
// Responses are kept in an LRU cache keyed by a SHA-256 digest of the normalized
// request plus the index generation. Every index mutation bumps the generation,
// so stale responses are never served; they age out of the cache.
package searcher
