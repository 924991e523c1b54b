package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/codeindex/pkg/types"
)

// FilePersister stores a snapshot as one JSON document
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister for the JSON document at path
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Location returns the document path
func (p *FilePersister) Location() string {
	return p.path
}

// Close is a no-op
func (p *FilePersister) Close() error {
	return nil
}

// Load reads the snapshot. A missing, truncated or invalid document never fails:
// whatever parses is kept and the rest is reported in Snapshot.Recovered.
func (p *FilePersister) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return decodeSnapshot(data), nil
}

// Save writes the snapshot atomically: a temporary file in the same directory is
// written, synced and renamed over the document
func (p *FilePersister) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	out := *snap
	out.Version = SnapshotVersion
	if out.Chunks == nil {
		out.Chunks = []types.Chunk{}
	}
	if out.FileHashes == nil {
		out.FileHashes = map[string]string{}
	}

	w := bufio.NewWriter(tmp)
	if err := json.NewEncoder(w).Encode(&out); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// decodeSnapshot walks the top-level object field by field and the chunk list
// element by element, so one bad value costs only what it holds
func decodeSnapshot(data []byte) *Snapshot {
	snap := NewSnapshot()
	snap.Version = 0

	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		snap.note("snapshot is not a JSON object")
		snap.Version = SnapshotVersion
		return snap
	}

	chunksSeen, chunksComplete := false, true

fields:
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			snap.note("snapshot truncated: %v", err)
			break
		}
		key, _ := tok.(string)

		switch key {
		case "chunks":
			chunksSeen = true
			if !decodeChunks(dec, snap) {
				chunksComplete = false
				break fields
			}
		default:
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				snap.note("snapshot truncated in %q: %v", key, err)
				break fields
			}
			decodeField(key, raw, snap)
		}
	}

	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	for path := range snap.invalid {
		snap.invalidate(path)
	}
	if chunksSeen && !chunksComplete {
		// the chunk list may be missing chunks of any file
		snap.invalidateAll()
	}
	snap.Reconcile()
	return snap
}

// decodeField decodes one scalar or map field. A missing hash is restored as an
// empty one by Reconcile.
func decodeField(key string, raw json.RawMessage, snap *Snapshot) {
	switch key {
	case "version":
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			snap.note("invalid version: %v", err)
			return
		}
		snap.Version = v

	case "fileHashes":
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			snap.note("invalid file hash map: %v", err)
			return
		}
		for path, value := range entries {
			var hash string
			if err := json.Unmarshal(value, &hash); err != nil {
				snap.note("invalid hash for %s", path)
				continue
			}
			snap.FileHashes[path] = hash
		}

	case "indexedAt":
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			snap.note("invalid indexedAt map: %v", err)
			return
		}
		for path, value := range entries {
			var ts time.Time
			if err := json.Unmarshal(value, &ts); err == nil {
				snap.IndexedAt[path] = ts
			}
		}
	}
}

// decodeChunks streams the chunk array. It returns false when the array could not
// be read to its end.
func decodeChunks(dec *json.Decoder, snap *Snapshot) bool {
	tok, err := dec.Token()
	if err != nil {
		snap.note("snapshot truncated in chunks: %v", err)
		return false
	}
	if tok == nil {
		return true
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		snap.note("chunks is not a list")
		// a scalar was consumed whole; an object leaves the decoder mid-value
		return !ok
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			snap.note("snapshot truncated after %d chunks: %v", len(snap.Chunks), err)
			return false
		}

		var chunk types.Chunk
		err := json.Unmarshal(raw, &chunk)
		if err == nil {
			err = validChunk(&chunk)
		}
		if err != nil {
			var ref struct {
				FilePath string `json:"filePath"`
			}
			_ = json.Unmarshal(raw, &ref)
			snap.pendingInvalid(ref.FilePath)
			snap.note("dropped invalid chunk of %q: %v", ref.FilePath, err)
			continue
		}
		snap.Chunks = append(snap.Chunks, chunk)
	}

	if _, err := dec.Token(); err != nil {
		snap.note("snapshot truncated at end of chunks: %v", err)
		return false
	}
	return true
}
