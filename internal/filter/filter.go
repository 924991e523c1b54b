// Package filter decides which files of a workspace are indexable.
//
// A path is indexable when it is not matched by the ignore rules (.gitignore,
// .codeindexignore and built-in defaults), is not vendored or hidden, carries an
// extension from the allow-list, and its content is text below the size cap.
package filter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-enry/go-enry/v2"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/dshills/codeindex/internal/parser"
)

// DefaultMaxFileBytes caps the size of an indexable file
const DefaultMaxFileBytes = 1 << 20

// IgnoreFileName is the workspace-specific ignore file read next to .gitignore
const IgnoreFileName = ".codeindexignore"

var (
	// ErrTooLarge is returned by CheckContent for files above the size cap
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrBinary is returned by CheckContent for binary content
	ErrBinary = errors.New("binary content")
)

// DefaultTextExtensions are indexed in addition to the parser's languages
var DefaultTextExtensions = []string{".md", ".txt", ".yaml", ".yml", ".json", ".toml"}

var defaultPatterns = []string{
	".git",
	".codeindex",
	"node_modules",
	"vendor",
	"dist",
	"build",
	"target",
	"bin",
	"obj",
	"__pycache__",
	"coverage",
	"*.min.js",
	"*.map",
	"*.lock",
	"package-lock.json",
}

// Config controls the indexable-file policy
type Config struct {
	// MaxFileBytes caps file size. Zero selects DefaultMaxFileBytes.
	MaxFileBytes int64

	// TextExtensions are extra extensions accepted besides the parser languages.
	// Nil selects DefaultTextExtensions.
	TextExtensions []string

	// Patterns are additional gitignore-style exclusions
	Patterns []string
}

// Filter applies the indexable-file policy below one root directory
type Filter struct {
	root     string
	matcher  *gitignore.GitIgnore
	exts     map[string]bool
	maxBytes int64
}

// New compiles the ignore rules found in root
func New(root string, cfg Config) (*Filter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	patterns := append([]string{}, defaultPatterns...)
	for _, name := range []string{".gitignore", IgnoreFileName} {
		lines, err := readIgnoreFile(filepath.Join(abs, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}
	patterns = append(patterns, cfg.Patterns...)

	exts := make(map[string]bool)
	for _, ext := range parser.SupportedExtensions() {
		exts[ext] = true
	}
	textExts := cfg.TextExtensions
	if textExts == nil {
		textExts = DefaultTextExtensions
	}
	for _, ext := range textExts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	return &Filter{
		root:     abs,
		matcher:  gitignore.CompileIgnoreLines(patterns...),
		exts:     exts,
		maxBytes: maxBytes,
	}, nil
}

// Root returns the absolute workspace root
func (f *Filter) Root() string {
	return f.root
}

// Rel converts path (absolute, or relative to the root) into the slash-separated
// root-relative key used by the index. It fails for paths outside the root.
func (f *Filter) Rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.root, path)
	}
	rel, err := filepath.Rel(f.root, filepath.Clean(path))
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, f.root)
	}
	return filepath.ToSlash(rel), nil
}

// Abs returns the filesystem path of a root-relative key
func (f *Filter) Abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

// SkipDir reports whether a directory, given as a root-relative key, is excluded
func (f *Filter) SkipDir(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	return enry.IsDotFile(rel) || enry.IsVendor(rel+"/") || f.matcher.MatchesPath(rel+"/")
}

// Match reports whether a root-relative file key passes the path rules
func (f *Filter) Match(rel string) bool {
	if rel == "" || !f.exts[strings.ToLower(filepath.Ext(rel))] {
		return false
	}
	if enry.IsDotFile(rel) || enry.IsVendor(rel) || f.matcher.MatchesPath(rel) {
		return false
	}
	// an excluded ancestor directory excludes the file
	for dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
		if f.SkipDir(dir) {
			return false
		}
	}
	return true
}

// CheckContent applies the content rules: size cap and binary detection
func (f *Filter) CheckContent(content []byte) error {
	if int64(len(content)) > f.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(content), f.maxBytes)
	}
	if enry.IsBinary(content) {
		return ErrBinary
	}
	return nil
}

// Discover walks the root and returns the sorted keys of every file that passes
// the path rules and the size cap. Content rules beyond size are left to the reader.
func (f *Filter) Discover(ctx context.Context) ([]string, error) {
	var files []string

	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == f.root {
				return err
			}
			// unreadable entries are skipped
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if f.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.Match(rel) {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil && info.Size() > f.maxBytes {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// readIgnoreFile returns the patterns of an ignore file, or nothing if it is missing
func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
