package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dshills/codeindex/pkg/types"
)

// SQLitePersister stores a snapshot in a SQLite database. Each Save replaces the
// stored snapshot inside one transaction.
type SQLitePersister struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLitePersister opens (creating if needed) the database at dbPath and applies
// pending migrations
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLitePersister{db: db, path: dbPath}, nil
}

// Location returns the database path
func (p *SQLitePersister) Location() string {
	return p.path
}

// Close closes the database connection
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Save replaces the stored snapshot
func (p *SQLitePersister) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM chunks", "DELETE FROM file_hashes"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}
	}

	if err := insertHashes(ctx, tx, snap); err != nil {
		return err
	}
	if err := insertChunks(ctx, tx, snap.Chunks); err != nil {
		return err
	}
	if err := setMeta(ctx, tx, "version", strconv.Itoa(SnapshotVersion)); err != nil {
		return err
	}
	if err := setMeta(ctx, tx, "saved_at", time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func insertHashes(ctx context.Context, q querier, snap *Snapshot) error {
	for path, hash := range snap.FileHashes {
		var indexedAt interface{}
		if ts, ok := snap.IndexedAt[path]; ok {
			indexedAt = ts.UTC()
		}
		if _, err := q.ExecContext(ctx,
			"INSERT INTO file_hashes (file_path, content_hash, indexed_at) VALUES (?, ?, ?)",
			path, hash, indexedAt,
		); err != nil {
			return fmt.Errorf("failed to store hash for %s: %w", path, err)
		}
	}
	return nil
}

func insertChunks(ctx context.Context, q querier, chunks []types.Chunk) error {
	const query = `
		INSERT INTO chunks (id, file_path, content, start_line, end_line, level,
			symbol_name, parent_symbol, embedding, dimension)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			dimension = excluded.dimension
	`
	for i := range chunks {
		c := &chunks[i]
		var blob []byte
		if c.HasEmbedding() {
			blob = EncodeVector(c.Embedding)
		}
		if _, err := q.ExecContext(ctx, query,
			c.ID, c.FilePath, c.Content, c.StartLine, c.EndLine, int(c.Level),
			nullString(c.SymbolName), nullString(c.ParentSymbol), blob, len(c.Embedding),
		); err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Load reads the stored snapshot. Rows that cannot be decoded are dropped and their
// files marked for re-embedding.
func (p *SQLitePersister) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	var version string
	err := p.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'version'").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		return snap, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read snapshot version: %w", err)
	}
	if v, convErr := strconv.Atoi(version); convErr == nil {
		snap.Version = v
	} else {
		snap.note("invalid version %q", version)
	}

	if err := p.loadHashes(ctx, snap); err != nil {
		return nil, err
	}
	if err := p.loadChunks(ctx, snap); err != nil {
		return nil, err
	}

	for path := range snap.invalid {
		snap.invalidate(path)
	}
	snap.Reconcile()
	return snap, nil
}

func (p *SQLitePersister) loadHashes(ctx context.Context, snap *Snapshot) error {
	rows, err := p.db.QueryContext(ctx, "SELECT file_path, content_hash, indexed_at FROM file_hashes")
	if err != nil {
		return fmt.Errorf("failed to query file hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			path, hash string
			indexedAt  sql.NullTime
		)
		if err := rows.Scan(&path, &hash, &indexedAt); err != nil {
			snap.note("invalid file hash row: %v", err)
			continue
		}
		snap.FileHashes[path] = hash
		if indexedAt.Valid {
			snap.IndexedAt[path] = indexedAt.Time
		}
	}
	return rows.Err()
}

func (p *SQLitePersister) loadChunks(ctx context.Context, snap *Snapshot) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, file_path, content, start_line, end_line, level,
			symbol_name, parent_symbol, embedding, dimension
		FROM chunks
		ORDER BY file_path, start_line, level, end_line
	`)
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			c             types.Chunk
			level, dim    int
			symbol, owner sql.NullString
			blob          []byte
		)
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Content, &c.StartLine, &c.EndLine, &level,
			&symbol, &owner, &blob, &dim); err != nil {
			snap.note("invalid chunk row: %v", err)
			continue
		}
		c.Level = types.ChunkLevel(level)
		c.SymbolName = symbol.String
		c.ParentSymbol = owner.String

		if len(blob) > 0 {
			vec, err := DecodeVector(blob)
			if err == nil && len(vec) != dim {
				err = fmt.Errorf("dimension %d does not match stored %d", len(vec), dim)
			}
			if err != nil {
				snap.pendingInvalid(c.FilePath)
				snap.note("dropped chunk %s: %v", c.ID, err)
				continue
			}
			c.Embedding = vec
		}

		if err := validChunk(&c); err != nil {
			snap.pendingInvalid(c.FilePath)
			snap.note("dropped chunk %s: %v", c.ID, err)
			continue
		}
		snap.Chunks = append(snap.Chunks, c)
	}
	return rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
