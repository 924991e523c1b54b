package types

import (
	"errors"
	"fmt"
)

// ChunkLevel is the hierarchy level a chunk was produced at
type ChunkLevel int

const (
	// LevelFile is the file summary chunk
	LevelFile ChunkLevel = 0
	// LevelClass is a class or interface chunk
	LevelClass ChunkLevel = 1
	// LevelFunction is a function or method chunk
	LevelFunction ChunkLevel = 2
	// LevelBlock is a gap chunk or any other block
	LevelBlock ChunkLevel = 3
)

// String returns a readable level name
func (l ChunkLevel) String() string {
	switch l {
	case LevelFile:
		return "file"
	case LevelClass:
		return "class"
	case LevelFunction:
		return "function"
	case LevelBlock:
		return "block"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// LevelForKind maps a symbol kind to the chunk level it is emitted at
func LevelForKind(kind SymbolKind) ChunkLevel {
	switch kind {
	case KindClass, KindInterface:
		return LevelClass
	case KindFunction, KindMethod:
		return LevelFunction
	default:
		return LevelBlock
	}
}

// Chunk represents a contiguous, bounded line range of one file: the unit that is
// embedded, stored and retrieved.
//
// StartLine and EndLine are not exact symbol extents. Short gap runs between
// chunks are folded into a neighbouring chunk or widened by borrowing adjacent
// lines so that every line stays covered; a symbol chunk may therefore start or
// end a few lines outside its symbol.
type Chunk struct {
	// Identification
	ID       string `json:"id"`
	FilePath string `json:"filePath"`

	// Content
	Content string `json:"content"`

	// Location (1-indexed, inclusive)
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`

	// Hierarchy
	Level        ChunkLevel `json:"level"`
	SymbolName   string     `json:"symbolName,omitempty"`
	ParentSymbol string     `json:"parentSymbol,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`
}

// LineCount returns the number of lines the chunk spans
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// Contains reports whether the 1-indexed line lies inside the chunk
func (c *Chunk) Contains(line int) bool {
	return line >= c.StartLine && line <= c.EndLine
}

// HasEmbedding reports whether a vector has been attached
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// ValidateLevel checks if the chunk level is valid
func (c *Chunk) ValidateLevel() error {
	switch c.Level {
	case LevelFile, LevelClass, LevelFunction, LevelBlock:
		return nil
	default:
		return errors.New("invalid chunk level")
	}
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if err := c.ValidateLevel(); err != nil {
		return err
	}

	if c.ID == "" {
		return errors.New("chunk ID is required")
	}

	if c.FilePath == "" {
		return errors.New("file path is required")
	}

	return nil
}

// Clone returns a deep copy so callers cannot mutate stored vectors
func (c Chunk) Clone() Chunk {
	if c.Embedding != nil {
		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		c.Embedding = vec
	}
	return c
}
