package parser

import (
	"strings"
)

// ScanLimitFactor bounds block-end scans to this multiple of the max chunk size
const ScanLimitFactor = 10

// SplitLines splits content into lines without their terminators.
// A trailing newline does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// IndentOf returns the width of the leading whitespace, counting a tab as 4 columns
func IndentOf(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineCode
)

// classifier labels lines, carrying block-comment state across calls
type classifier struct {
	spec *languageSpec
	open *commentPair
}

func newClassifier(spec *languageSpec) *classifier {
	return &classifier{spec: spec}
}

func (c *classifier) classify(raw string) lineKind {
	trimmed := strings.TrimSpace(raw)

	if c.open != nil {
		if strings.Contains(trimmed, c.open.end) {
			c.open = nil
		}
		return lineComment
	}

	if trimmed == "" {
		return lineBlank
	}

	for _, prefix := range c.spec.lineComments {
		if strings.HasPrefix(trimmed, prefix) {
			return lineComment
		}
	}

	for i := range c.spec.blockComment {
		pair := c.spec.blockComment[i]
		if !strings.HasPrefix(trimmed, pair.start) {
			continue
		}
		rest := trimmed[len(pair.start):]
		idx := strings.Index(rest, pair.end)
		if idx < 0 {
			c.open = &pair
			return lineComment
		}
		if strings.TrimSpace(rest[idx+len(pair.end):]) != "" {
			return lineCode
		}
		return lineComment
	}

	c.trackTrailingOpen(trimmed)
	return lineCode
}

// trackTrailingOpen detects a block comment (or Python triple-quoted string) that
// opens on a code line and is not closed on it
func (c *classifier) trackTrailingOpen(trimmed string) {
	for i := range c.spec.blockComment {
		pair := c.spec.blockComment[i]
		if pair.start == pair.end {
			if strings.Count(trimmed, pair.start)%2 == 1 {
				c.open = &pair
				return
			}
			continue
		}
		code := stripLiterals(trimmed, c.spec)
		idx := strings.LastIndex(code, pair.start)
		if idx >= 0 && !strings.Contains(code[idx+len(pair.start):], pair.end) {
			c.open = &pair
			return
		}
	}
}

// charQuoted reports languages where ' introduces a single character literal
func (s *languageSpec) charQuoted() bool {
	switch s.lang {
	case LangGo, LangJava, LangRust, LangCSharp:
		return true
	}
	return false
}

// stripLiterals blanks string literal contents and drops a trailing line comment,
// so braces and comment markers inside strings are not counted
func stripLiterals(line string, spec *languageSpec) string {
	var b strings.Builder
	b.Grow(len(line))

	for i := 0; i < len(line); i++ {
		ch := line[i]

		for _, prefix := range spec.lineComments {
			if strings.HasPrefix(line[i:], prefix) {
				return b.String()
			}
		}

		switch ch {
		case '"', '`':
			end := closingQuote(line, i+1, ch)
			b.WriteString(`""`)
			i = end
		case '\'':
			if spec.charQuoted() {
				end, ok := charLiteralEnd(line, i)
				if !ok {
					b.WriteByte(ch)
					continue
				}
				b.WriteString(`''`)
				i = end
				continue
			}
			end := closingQuote(line, i+1, ch)
			b.WriteString(`''`)
			i = end
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// closingQuote returns the index of the quote that closes a literal opened before from,
// or the last index of the line when the literal is unterminated
func closingQuote(line string, from int, quote byte) int {
	for j := from; j < len(line); j++ {
		switch line[j] {
		case '\\':
			if quote != '`' {
				j++
			}
		case quote:
			return j
		}
	}
	return len(line) - 1
}

// charLiteralEnd recognizes 'x' and '\n' style literals; Rust lifetimes are left alone
func charLiteralEnd(line string, at int) (int, bool) {
	if at+2 < len(line) && line[at+1] != '\\' && line[at+2] == '\'' {
		return at + 2, true
	}
	if at+1 < len(line) && line[at+1] == '\\' {
		for j := at + 2; j < len(line) && j <= at+10; j++ {
			if line[j] == '\'' {
				return j, true
			}
		}
	}
	return 0, false
}

// FindBlockEnd returns the 0-based index of the last line of the block whose
// definition sits at startIdx. The forward scan never looks past startIdx+limit.
func FindBlockEnd(lines []string, startIdx int, lang Language, limit int) int {
	if startIdx < 0 || startIdx >= len(lines) {
		return startIdx
	}
	if limit <= 0 {
		limit = ScanLimitFactor * 60
	}
	last := min(len(lines)-1, startIdx+limit)

	spec := specFor(lang)
	if spec.blocks == blockIndent {
		return indentBlockEnd(lines, startIdx, last)
	}
	return braceBlockEnd(lines, startIdx, last, spec)
}

func indentBlockEnd(lines []string, startIdx, last int) int {
	base := IndentOf(lines[startIdx])

	end := startIdx
	for j := startIdx + 1; j <= last; j++ {
		if strings.TrimSpace(lines[j]) == "" {
			continue
		}
		if IndentOf(lines[j]) <= base {
			return end
		}
		end = j
	}
	return end
}

func braceBlockEnd(lines []string, startIdx, last int, spec *languageSpec) int {
	cls := newClassifier(spec)
	depth := 0
	opened := false

	for j := startIdx; j <= last; j++ {
		if cls.classify(lines[j]) != lineCode {
			continue
		}
		code := stripLiterals(strings.TrimSpace(lines[j]), spec)
		for i := 0; i < len(code); i++ {
			switch code[i] {
			case '{':
				depth++
				opened = true
			case '}':
				if opened {
					depth--
				}
			}
		}
		if opened && depth <= 0 {
			return j
		}
		if !opened && !continuesDeclaration(code, lines, j, last) {
			return startIdx
		}
	}

	if opened {
		return last
	}
	return startIdx
}

// continuesDeclaration reports whether a declaration without a brace yet keeps
// going on the next line (multi-line parameter lists, Allman braces)
func continuesDeclaration(code string, lines []string, j, last int) bool {
	if j >= last {
		return false
	}
	trimmed := strings.TrimSpace(code)
	for _, suffix := range []string{"(", ",", "=", "=>", ":", "|", "&", "<", "["} {
		if strings.HasSuffix(trimmed, suffix) {
			return true
		}
	}
	next := strings.TrimSpace(lines[j+1])
	return strings.HasPrefix(next, "{") || strings.HasPrefix(next, ")") ||
		strings.HasPrefix(next, "where ") || strings.HasPrefix(next, "throws ") ||
		strings.HasPrefix(next, ":")
}
