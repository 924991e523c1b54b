// Package indexer holds the in-memory index of one workspace: every chunk with its
// embedding, and the content hash of every indexed file.
//
// # Basic Usage
//
//	idx, err := indexer.New(indexer.Dependencies{
//	    Chunker:   chunk,
//	    Embedder:  emb,
//	    Persister: persister,
//	    Filter:    files,
//	}, indexer.Config{})
//
//	_ = idx.Load(ctx)
//	changed, err := idx.AddFile(ctx, "internal/app/server.go", content)
//	results, err := idx.Search(ctx, "where are requests authenticated", 10)
//	_ = idx.Save(ctx)
//
// # Change Detection
//
// AddFile hashes the content with SHA-256 and returns immediately when the hash
// equals the stored one, so unchanged files never reach the embedding provider.
// Otherwise the file is chunked and every chunk embedded before the index lock is
// taken; the old chunks of the file are then swapped for the new ones in a single
// step. A failed embedding leaves the previous chunks in place.
//
// # Invariant
//
// A path has chunks if and only if it has a hash entry. The invariant is checked
// after every mutation and violations are logged at error level.
//
// # Multi-file Operations
//
// ReindexAll (clear, then add every indexable file) and Sync (add changed files,
// remove vanished ones) discover files through the filter package and embed them
// with a bounded worker pool. Per-file failures are collected in Statistics and do
// not stop the run. Only one of them runs at a time; a concurrent call returns
// ErrIndexBusy.
package indexer
