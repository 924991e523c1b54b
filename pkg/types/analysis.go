package types

// FileAnalysis is the output of analyzing one source file
type FileAnalysis struct {
	Path     string
	Language string // empty when the extension is not supported

	// Extracted data
	Symbols []Symbol
	Imports []ImportInfo
	Exports []string

	// Metrics
	Metrics    LineMetrics
	Complexity int
}

// ImportInfo represents one import statement
type ImportInfo struct {
	Source      string   // Module path or package (e.g., "./util", "os")
	Specifiers  []string // Imported names, if any
	IsDefault   bool
	IsNamespace bool
	Line        int
}

// LineMetrics counts lines by classification
type LineMetrics struct {
	Total   int
	Code    int
	Comment int
	Blank   int
}

// Supported returns true when symbols and imports were extracted for the file
func (fa *FileAnalysis) Supported() bool {
	return fa.Language != ""
}

// SymbolsOfKind returns the symbols with the given kind in source order
func (fa *FileAnalysis) SymbolsOfKind(kinds ...SymbolKind) []Symbol {
	var out []Symbol
	for i := range fa.Symbols {
		for _, k := range kinds {
			if fa.Symbols[i].Kind == k {
				out = append(out, fa.Symbols[i])
				break
			}
		}
	}
	return out
}
