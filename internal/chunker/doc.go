// Package chunker divides one source file into overlapping, bounded, multi-level
// chunks for embedding and search.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.DefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range c.CreateChunks(content, "src/auth.ts") {
//	    fmt.Printf("%s %d-%d %s\n", chunk.Level, chunk.StartLine, chunk.EndLine, chunk.SymbolName)
//	}
//
// # Passes
//
// Chunks are produced by three ordered passes:
//   - Summary (level 0): the leading comment, or else the first 10 meaningful
//     non-import lines within the first 50
//   - Symbols: classes and interfaces at level 1, functions and methods at level 2.
//     Symbols shorter than MinChunkSize are skipped; longer than MaxChunkSize are
//     split into windows that slide by MaxChunkSize-Overlap lines
//   - Gaps (level 3): every line the first two passes missed
//
// Short gap runs without letters or digits are folded into a neighbouring chunk.
// Short gap runs that carry code are widened to MinChunkSize lines. Every line of a
// file is therefore inside at least one chunk.
//
// # Determinism
//
// Output is sorted by start line, level and end line. Chunk ids are UUIDv5 values
// derived from path, range and level, so unchanged content always yields the same ids.
package chunker
