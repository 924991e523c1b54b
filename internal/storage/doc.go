// Package storage persists workspace index snapshots.
//
// A Snapshot holds every chunk (with its embedding) and the content hash of every
// file the chunks came from. Two Persister implementations are provided:
//   - FilePersister: one JSON document, .codeindex/index.json (default)
//   - SQLitePersister: a SQLite database, .codeindex/index.db
//
// # Snapshot Format
//
//	{
//	  "version": 1,
//	  "chunks": [{"id": "...", "filePath": "src/a.ts", "startLine": 1, ...}],
//	  "fileHashes": {"src/a.ts": "9f86d0..."},
//	  "indexedAt": {"src/a.ts": "2025-01-02T15:04:05Z"}
//	}
//
// # Recovery
//
// Loading never fails on content. A missing document yields an empty snapshot. The
// JSON loader decodes field by field and the chunk list element by element, so a
// corrupt hash map keeps the chunk list and a corrupt chunk drops only itself. Any
// file that lost data gets an empty hash, which forces re-embedding on the next add.
// What was repaired is listed in Snapshot.Recovered.
//
// # Basic Usage
//
//	p, err := storage.Open(storage.BackendJSON, filepath.Join(root, storage.DefaultDir))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	snap, err := p.Load(ctx)
//	// ... mutate snap ...
//	err = p.Save(ctx, snap)
//
// # Build Tags
//
// The SQLite backend supports two drivers:
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
// CGO build (cgo_sqlite tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "cgo_sqlite"
//
// Schema changes are applied as semver-ordered migrations (see AllMigrations).
package storage
