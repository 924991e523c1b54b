package parser

import "strings"

// LeadingComment locates the comment that opens a file: a block comment, a Python
// docstring, or a run of consecutive line comments. Lines are 1-based and inclusive.
func LeadingComment(path string, lines []string) (start, end int, ok bool) {
	first := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return 0, 0, false
	}

	spec := specFor(DetectLanguage(path))
	trimmed := strings.TrimSpace(lines[first])

	for _, pair := range spec.blockComment {
		if !strings.HasPrefix(trimmed, pair.start) {
			continue
		}
		if strings.Contains(trimmed[len(pair.start):], pair.end) {
			return first + 1, first + 1, true
		}
		for j := first + 1; j < len(lines); j++ {
			if strings.Contains(lines[j], pair.end) {
				return first + 1, j + 1, true
			}
		}
		// unterminated
		return 0, 0, false
	}

	if !hasLineCommentPrefix(trimmed, spec) {
		return 0, 0, false
	}
	last := first
	for j := first + 1; j < len(lines); j++ {
		if !hasLineCommentPrefix(strings.TrimSpace(lines[j]), spec) {
			break
		}
		last = j
	}
	return first + 1, last + 1, true
}

// IsImportLine reports whether a trimmed line is a module header or import statement
func IsImportLine(trimmed string) bool {
	for _, prefix := range []string{"import ", "import(", "from ", "package ", "using ", "use ", "pub use ", "require(", "#include"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func hasLineCommentPrefix(trimmed string, spec *languageSpec) bool {
	for _, prefix := range spec.lineComments {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
