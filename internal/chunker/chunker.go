package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/dshills/codeindex/internal/parser"
	"github.com/dshills/codeindex/pkg/types"
)

const (
	// DefaultMaxChunkSize is the maximum chunk length in lines
	DefaultMaxChunkSize = 60

	// DefaultMinChunkSize is the smallest symbol or gap kept as its own chunk
	DefaultMinChunkSize = 5

	// DefaultOverlap is the number of lines shared by consecutive split windows
	DefaultOverlap = 10

	// SummaryLines is the number of meaningful lines a fallback summary keeps
	SummaryLines = 10

	// SummaryScanLines bounds the fallback summary search
	SummaryScanLines = 50
)

// Config holds the chunk sizing, measured in lines
type Config struct {
	MaxChunkSize int
	MinChunkSize int
	Overlap      int
}

// DefaultConfig returns the default chunk sizing
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: DefaultMaxChunkSize,
		MinChunkSize: DefaultMinChunkSize,
		Overlap:      DefaultOverlap,
	}
}

// Validate checks the sizing is usable for sliding windows
func (c Config) Validate() error {
	if c.MaxChunkSize <= 0 {
		return errors.New("max chunk size must be positive")
	}
	if c.MinChunkSize <= 0 {
		return errors.New("min chunk size must be positive")
	}
	if c.MinChunkSize > c.MaxChunkSize {
		return fmt.Errorf("min chunk size %d exceeds max chunk size %d", c.MinChunkSize, c.MaxChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkSize {
		return fmt.Errorf("overlap %d must be in [0, %d)", c.Overlap, c.MaxChunkSize)
	}
	return nil
}

// idNamespace seeds the deterministic UUIDv5 chunk ids
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("codeindex/chunk"))

// Chunker converts one file into overlapping, bounded, multi-level chunks
type Chunker struct {
	cfg      Config
	analyzer parser.Analyzer
}

// New creates a new Chunker. A nil analyzer selects the pattern-based parser.
func New(cfg Config, analyzer parser.Analyzer) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}
	if analyzer == nil {
		analyzer = parser.New(parser.Config{MaxChunkSize: cfg.MaxChunkSize})
	}
	return &Chunker{cfg: cfg, analyzer: analyzer}, nil
}

// Config returns the sizing in use
func (c *Chunker) Config() Config {
	return c.cfg
}

// CreateChunks runs the summary, symbol and gap passes over one file.
// Identical content and configuration always produce identical chunks.
func (c *Chunker) CreateChunks(content, filePath string) []types.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := parser.SplitLines(content)

	b := &builder{path: filePath, lines: lines}

	if len(lines) < c.cfg.MinChunkSize {
		b.emit(1, len(lines), types.LevelFile, "", "")
		return b.finish()
	}

	analysis := c.analyzer.Analyze(filePath, content)

	c.summaryPass(b, analysis)
	c.symbolPass(b, analysis)
	c.gapPass(b)

	return b.sorted()
}

// summaryPass emits at most one level-0 chunk
func (c *Chunker) summaryPass(b *builder, analysis *types.FileAnalysis) {
	if start, end, ok := parser.LeadingComment(b.path, b.lines); ok {
		end = min(end, start+c.cfg.MaxChunkSize-1)
		b.emit(start, end, types.LevelFile, "", "")
		return
	}

	importLines := make(map[int]bool, len(analysis.Imports))
	for _, imp := range analysis.Imports {
		importLines[imp.Line] = true
	}

	start, end, taken := 0, 0, 0
	limit := min(len(b.lines), SummaryScanLines)
	for i := 0; i < limit && taken < SummaryLines; i++ {
		trimmed := strings.TrimSpace(b.lines[i])
		if !isMeaningful(trimmed) || importLines[i+1] || parser.IsImportLine(trimmed) {
			continue
		}
		if start == 0 {
			start = i + 1
		}
		end = i + 1
		taken++
	}
	if start == 0 {
		return
	}

	end = min(end, start+c.cfg.MaxChunkSize-1)
	b.emit(start, end, types.LevelFile, "", "")
}

// symbolPass emits class/interface (level 1) and function/method (level 2) chunks
func (c *Chunker) symbolPass(b *builder, analysis *types.FileAnalysis) {
	for _, sym := range analysis.SymbolsOfKind(types.KindClass, types.KindInterface, types.KindFunction, types.KindMethod) {
		start, end := sym.StartLine, min(sym.EndLine, len(b.lines))
		if start < 1 || start > end {
			continue
		}

		span := end - start + 1
		level := types.LevelForKind(sym.Kind)

		switch {
		case span < c.cfg.MinChunkSize:
			continue
		case span > c.cfg.MaxChunkSize:
			for _, w := range SplitWindows(start, end, c.cfg.MaxChunkSize, c.cfg.Overlap) {
				b.emit(w.Start, w.End, level, sym.Name, sym.Name)
			}
		default:
			b.emit(start, end, level, sym.Name, sym.Parent)
		}
	}
}

// gapPass covers every line the first two passes left uncovered
func (c *Chunker) gapPass(b *builder) {
	covered := make([]bool, len(b.lines)+1)
	for _, chunk := range b.chunks {
		for line := chunk.StartLine; line <= chunk.EndLine; line++ {
			covered[line] = true
		}
	}

	for line := 1; line <= len(b.lines); {
		if covered[line] {
			line++
			continue
		}
		start := line
		for line <= len(b.lines) && !covered[line] {
			line++
		}
		c.emitGap(b, start, line-1)
	}
}

func (c *Chunker) emitGap(b *builder, start, end int) {
	span := end - start + 1
	meaningful := hasMeaningfulLine(b.lines[start-1 : end])

	if span >= c.cfg.MinChunkSize {
		if !meaningful && b.absorb(start, end, c.cfg.MaxChunkSize) {
			return
		}
		for _, w := range SplitWindows(start, end, c.cfg.MaxChunkSize, c.cfg.Overlap) {
			b.emit(w.Start, w.End, types.LevelBlock, "", "")
		}
		return
	}

	// short runs of blank or punctuation lines are noise; their lines join a neighbour
	if !meaningful && b.absorb(start, end, c.cfg.MaxChunkSize) {
		return
	}

	// short runs that carry code borrow neighbouring lines up to the minimum size
	end = min(len(b.lines), start+c.cfg.MinChunkSize-1)
	start = max(1, end-c.cfg.MinChunkSize+1)
	b.emit(start, end, types.LevelBlock, "", "")
}

// Window is one inclusive line range produced by SplitWindows
type Window struct {
	Start int
	End   int
}

// SplitWindows splits [start, end] into windows of at most maxSize lines, each
// starting maxSize-overlap lines after the previous one, until end is reached.
// A range that already fits is returned as a single window.
func SplitWindows(start, end, maxSize, overlap int) []Window {
	if end < start {
		return nil
	}
	if maxSize <= 0 || end-start+1 <= maxSize {
		return []Window{{Start: start, End: end}}
	}

	step := maxSize - overlap
	if step <= 0 {
		step = maxSize
	}

	var windows []Window
	for s := start; ; s += step {
		e := min(s+maxSize-1, end)
		windows = append(windows, Window{Start: s, End: e})
		if e == end {
			return windows
		}
	}
}

// HashContent returns the SHA-256 hex digest of text
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives the deterministic id of a chunk from its file, range and level
func ChunkID(filePath string, start, end int, level types.ChunkLevel) string {
	key := fmt.Sprintf("%s:%d-%d:%d", filePath, start, end, int(level))
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// IsLowSignal reports whether text has no letters or digits at all
func IsLowSignal(text string) bool {
	return !strings.ContainsFunc(text, isWordRune)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isMeaningful(trimmed string) bool {
	return trimmed != "" && strings.ContainsFunc(trimmed, isWordRune)
}

func hasMeaningfulLine(lines []string) bool {
	for _, line := range lines {
		if isMeaningful(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// builder accumulates chunks for one file
type builder struct {
	path   string
	lines  []string
	chunks []types.Chunk
}

func (b *builder) emit(start, end int, level types.ChunkLevel, symbol, parent string) {
	b.chunks = append(b.chunks, types.Chunk{
		FilePath:     b.path,
		StartLine:    start,
		EndLine:      end,
		Level:        level,
		SymbolName:   symbol,
		ParentSymbol: parent,
	})
}

// absorb widens the chunk that ends right before start (or begins right after end)
// so it also covers [start, end], provided it stays within maxSize lines
func (b *builder) absorb(start, end, maxSize int) bool {
	best := -1
	for i := range b.chunks {
		ch := &b.chunks[i]
		if ch.EndLine == start-1 && end-ch.StartLine+1 <= maxSize {
			if best < 0 || ch.Level > b.chunks[best].Level {
				best = i
			}
		}
	}
	if best >= 0 {
		b.chunks[best].EndLine = end
		return true
	}

	for i := range b.chunks {
		ch := &b.chunks[i]
		if ch.StartLine == end+1 && ch.EndLine-start+1 <= maxSize {
			if best < 0 || ch.Level > b.chunks[best].Level {
				best = i
			}
		}
	}
	if best >= 0 {
		b.chunks[best].StartLine = start
		return true
	}
	return false
}

// sorted orders chunks by (start, level, end), drops duplicate ranges at the same
// level, then fills in content and ids
func (b *builder) sorted() []types.Chunk {
	sort.SliceStable(b.chunks, func(i, j int) bool {
		a, c := b.chunks[i], b.chunks[j]
		if a.StartLine != c.StartLine {
			return a.StartLine < c.StartLine
		}
		if a.Level != c.Level {
			return a.Level < c.Level
		}
		return a.EndLine < c.EndLine
	})

	out := b.chunks[:0]
	for i, ch := range b.chunks {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.StartLine == ch.StartLine && prev.EndLine == ch.EndLine && prev.Level == ch.Level {
				continue
			}
		}
		out = append(out, ch)
	}
	b.chunks = out
	return b.finish()
}

func (b *builder) finish() []types.Chunk {
	for i := range b.chunks {
		ch := &b.chunks[i]
		ch.Content = strings.Join(b.lines[ch.StartLine-1:ch.EndLine], "\n")
		ch.ID = ChunkID(b.path, ch.StartLine, ch.EndLine, ch.Level)
	}
	return b.chunks
}
