// Package parser extracts symbols, imports and line metrics from source files using
// ordered per-language pattern rules.
//
// Extraction is deliberately approximate. There is no grammar: each supported language
// has a rule table (comment syntax, block style, import rules, symbol rules, export
// detection) selected by file extension.
//
// # Basic Usage
//
//	p := parser.New(parser.Config{MaxChunkSize: 60})
//	analysis := p.Analyze("src/auth.ts", content)
//
//	for _, symbol := range analysis.Symbols {
//	    fmt.Printf("Found %s: %s (%d-%d)\n", symbol.Kind, symbol.Name, symbol.StartLine, symbol.EndLine)
//	}
//
// # Supported Languages
//
//   - TypeScript (.ts .tsx .mts .cts) and JavaScript (.js .jsx .mjs .cjs)
//   - Python (.py .pyi), blocks delimited by indentation
//   - Go (.go), methods carry their receiver type as parent
//   - Java (.java), C# (.cs) and Rust (.rs)
//
// Any other extension yields line metrics only. Analyze never fails.
//
// # Block Ends
//
// FindBlockEnd resolves the last line of a definition. Brace languages count braces
// (ignoring those in string literals and comments) until the balance returns to zero;
// a declaration that never opens a brace is a single line. Python scans forward until
// a non-blank line is indented no deeper than the definition. Both scans stop after
// ScanLimitFactor × MaxChunkSize lines so unbalanced input cannot stall indexing.
//
// # Containers
//
// Classes, interfaces, structs, traits and Rust impl blocks open a container. A
// function found directly in a container body becomes a method whose Parent is the
// container name. Namespaces and modules are transparent.
package parser
