// Package types provides shared type definitions for the codeindex engine.
//
// This package defines the domain types used across components: symbols recovered
// by the pattern-based extractor, the per-file analysis, retrieval chunks and
// ranked search results.
//
// # Core Types
//
// Symbol represents a named construct (class, function, etc.) found by pattern
// matching:
//
//	symbol := types.Symbol{
//	    Name:      "parseConfig",
//	    Kind:      types.KindFunction,
//	    FilePath:  "src/config.ts",
//	    StartLine: 12,
//	    EndLine:   40,
//	    Exported:  true,
//	}
//
// Chunk represents a contiguous line range of one file at a hierarchy level:
//
//	chunk := types.Chunk{
//	    FilePath:   "src/config.ts",
//	    StartLine:  12,
//	    EndLine:    40,
//	    Level:      types.LevelFunction,
//	    SymbolName: "parseConfig",
//	}
//
// Levels are 0 (file summary), 1 (class/interface), 2 (function/method) and
// 3 (block or gap).
//
// # Search Results
//
// SearchResult pairs a chunk with its cosine score. Chunks without an embedding
// score UnembeddedScore, which is lower than any cosine similarity.
package types
