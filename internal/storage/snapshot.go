package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dshills/codeindex/pkg/types"
)

const (
	// SnapshotVersion is the format version written by Save
	SnapshotVersion = 1

	// DefaultDir is the workspace-relative directory holding persisted state
	DefaultDir = ".codeindex"

	// JSONFileName is the snapshot document written by FilePersister
	JSONFileName = "index.json"

	// SQLiteFileName is the database written by SQLitePersister
	SQLiteFileName = "index.db"
)

// Backend selects a snapshot persister implementation
type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrUnknownBackend is returned by Open for an unsupported backend name
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Snapshot is the persisted state of one workspace index: every chunk plus the
// content hash of every file the chunks were produced from
type Snapshot struct {
	Version    int                  `json:"version"`
	Chunks     []types.Chunk        `json:"chunks"`
	FileHashes map[string]string    `json:"fileHashes"`
	IndexedAt  map[string]time.Time `json:"indexedAt,omitempty"`

	// Recovered lists problems that were repaired while loading
	Recovered []string `json:"-"`

	// paths that lost chunks while loading
	invalid map[string]bool
}

// NewSnapshot returns an empty snapshot at the current format version
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:    SnapshotVersion,
		Chunks:     []types.Chunk{},
		FileHashes: make(map[string]string),
		IndexedAt:  make(map[string]time.Time),
	}
}

// Paths returns the sorted set of file paths known to the snapshot
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.FileHashes))
	for path := range s.FileHashes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Reconcile restores the chunk/hash invariant after a partial load. Paths that have
// chunks but no hash get an empty hash so the next add re-embeds them; hashes with
// no chunks are dropped.
func (s *Snapshot) Reconcile() {
	if s.FileHashes == nil {
		s.FileHashes = make(map[string]string)
	}
	if s.IndexedAt == nil {
		s.IndexedAt = make(map[string]time.Time)
	}

	withChunks := make(map[string]bool)
	for _, chunk := range s.Chunks {
		withChunks[chunk.FilePath] = true
		if _, ok := s.FileHashes[chunk.FilePath]; !ok {
			s.FileHashes[chunk.FilePath] = ""
			s.note("file %s had chunks but no hash", chunk.FilePath)
		}
	}
	for path := range s.FileHashes {
		if !withChunks[path] {
			delete(s.FileHashes, path)
			s.note("file %s had a hash but no chunks", path)
		}
	}
	for path := range s.IndexedAt {
		if _, ok := s.FileHashes[path]; !ok {
			delete(s.IndexedAt, path)
		}
	}
}

// invalidate clears the stored hash of path so the file is re-embedded
func (s *Snapshot) invalidate(path string) {
	if path != "" {
		s.FileHashes[path] = ""
	}
}

func (s *Snapshot) pendingInvalid(path string) {
	if path == "" {
		return
	}
	if s.invalid == nil {
		s.invalid = make(map[string]bool)
	}
	s.invalid[path] = true
}

func (s *Snapshot) invalidateAll() {
	for path := range s.FileHashes {
		s.FileHashes[path] = ""
	}
}

func (s *Snapshot) note(format string, args ...any) {
	s.Recovered = append(s.Recovered, fmt.Sprintf(format, args...))
}

// Persister loads and saves workspace snapshots
type Persister interface {
	// Load returns the persisted snapshot. A missing snapshot yields an empty one.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the persisted snapshot
	Save(ctx context.Context, snap *Snapshot) error

	// Location returns where the snapshot lives
	Location() string

	Close() error
}

// Open creates the persister for backend under dir (normally <root>/.codeindex)
func Open(backend Backend, dir string) (Persister, error) {
	switch backend {
	case BackendJSON, "":
		return NewFilePersister(filepath.Join(dir, JSONFileName)), nil
	case BackendSQLite:
		return NewSQLitePersister(filepath.Join(dir, SQLiteFileName))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// validChunk reports whether a decoded chunk is usable as stored data
func validChunk(c *types.Chunk) error {
	if c.ID == "" {
		return errors.New("missing id")
	}
	if c.FilePath == "" {
		return errors.New("missing file path")
	}
	if c.StartLine <= 0 || c.EndLine < c.StartLine {
		return fmt.Errorf("invalid range %d-%d", c.StartLine, c.EndLine)
	}
	return c.ValidateLevel()
}
