package parser

import (
	"regexp"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// DefaultMaxChunkSize matches the chunker's default window, in lines
const DefaultMaxChunkSize = 60

// Analyzer extracts symbols, imports and metrics from one file.
// Implementations must never fail: unsupported input degrades to metrics only.
type Analyzer interface {
	Analyze(path, content string) *types.FileAnalysis
}

// Config controls the pattern-based analyzer
type Config struct {
	// MaxChunkSize sizes the block-end scan limit (ScanLimitFactor × MaxChunkSize)
	MaxChunkSize int

	// NamingConventions derives the exported flag from naming in languages without
	// a visibility keyword (Go capitalisation, Python leading underscore). Off, such
	// symbols are always exported.
	NamingConventions bool
}

// Parser is the pattern-based Analyzer
type Parser struct {
	scanLimit   int
	conventions bool
}

// New creates a new Parser instance
func New(cfg Config) *Parser {
	size := cfg.MaxChunkSize
	if size <= 0 {
		size = DefaultMaxChunkSize
	}
	return &Parser{scanLimit: ScanLimitFactor * size, conventions: cfg.NamingConventions}
}

// ScanLimit returns the maximum number of lines a block-end scan looks ahead
func (p *Parser) ScanLimit() int {
	return p.scanLimit
}

// complexityPattern counts branch points on code lines
var complexityPattern = regexp.MustCompile(`\b(?:if|elif|for|foreach|while|case|catch|except)\b|&&|\|\||\s\?\s`)

// Analyze extracts a FileAnalysis from file content
func (p *Parser) Analyze(path, content string) *types.FileAnalysis {
	lines := SplitLines(content)
	lang := DetectLanguage(path)
	spec := specFor(lang)

	analysis := &types.FileAnalysis{
		Path:     path,
		Language: lang.String(),
	}

	kinds := classifyLines(lines, spec, &analysis.Metrics)
	if lang == LangUnknown {
		return analysis
	}

	analysis.Complexity = 1
	for i, line := range lines {
		if kinds[i] == lineCode {
			analysis.Complexity += len(complexityPattern.FindAllStringIndex(stripLiterals(line, spec), -1))
		}
	}

	analysis.Imports = extractImports(lines, kinds, spec)

	ex := &symbolExtractor{
		spec:        spec,
		lines:       lines,
		kinds:       kinds,
		path:        path,
		scanLimit:   p.scanLimit,
		conventions: p.conventions,
	}
	analysis.Symbols = ex.extract()
	analysis.Exports = collectExports(analysis.Symbols, lines, kinds, spec)

	return analysis
}

// classifyLines labels every line and fills the line metrics
func classifyLines(lines []string, spec *languageSpec, metrics *types.LineMetrics) []lineKind {
	cls := newClassifier(spec)
	kinds := make([]lineKind, len(lines))
	metrics.Total = len(lines)

	for i, line := range lines {
		kinds[i] = cls.classify(line)
		switch kinds[i] {
		case lineBlank:
			metrics.Blank++
		case lineComment:
			metrics.Comment++
		default:
			metrics.Code++
		}
	}
	return kinds
}

// extractImports applies the ordered import rules; the first matching rule wins
func extractImports(lines []string, kinds []lineKind, spec *languageSpec) []types.ImportInfo {
	var imports []types.ImportInfo
	inBlock := false

	for i, line := range lines {
		if kinds[i] != lineCode {
			continue
		}
		trimmed := strings.TrimSpace(line)

		if inBlock {
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
				continue
			}
			if m := spec.importItem.pattern.FindStringSubmatch(trimmed); m != nil {
				info := spec.importItem.build(m)
				info.Line = i + 1
				imports = append(imports, info)
			}
			continue
		}

		if spec.importBlock != nil && spec.importBlock.MatchString(trimmed) {
			inBlock = spec.importItem != nil
			continue
		}

		for _, rule := range spec.imports {
			if m := rule.pattern.FindStringSubmatch(trimmed); m != nil {
				info := rule.build(m)
				info.Line = i + 1
				imports = append(imports, info)
				break
			}
		}
	}
	return imports
}

// scopeFrame is one open container (class, interface, impl) or transparent namespace
type scopeFrame struct {
	name        string
	transparent bool
	endIdx      int

	// bodyDepth is the brace depth of lines directly in the body;
	// bodyIndent is the indentation of those lines for indent languages
	bodyDepth  int
	bodyIndent int
}

type symbolExtractor struct {
	spec        *languageSpec
	lines       []string
	kinds       []lineKind
	path        string
	scanLimit   int
	conventions bool

	frames  []scopeFrame
	depth   int
	symbols []types.Symbol
}

func (e *symbolExtractor) isExported(line, name string) bool {
	switch {
	case e.spec.exported != nil:
		return e.spec.exported(line, name)
	case e.conventions && e.spec.convention != nil:
		return e.spec.convention(name)
	default:
		return true
	}
}

func (e *symbolExtractor) extract() []types.Symbol {
	for i, line := range e.lines {
		e.popFrames(i, line)

		if e.kinds[i] != lineCode {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if e.eligible(line) {
			e.matchLine(i, line, trimmed)
		}

		if e.spec.blocks == blockBraces {
			e.depth += braceDelta(stripLiterals(trimmed, e.spec))
			if e.depth < 0 {
				e.depth = 0
			}
		}
	}
	return e.symbols
}

func braceDelta(code string) int {
	return strings.Count(code, "{") - strings.Count(code, "}")
}

// popFrames closes frames whose block ended before line i
func (e *symbolExtractor) popFrames(i int, line string) {
	for len(e.frames) > 0 {
		top := e.frames[len(e.frames)-1]
		closed := i > top.endIdx
		if !closed && e.spec.blocks == blockIndent && e.kinds[i] != lineBlank && i > 0 {
			closed = IndentOf(line) < top.bodyIndent && e.kinds[i] == lineCode
		}
		if !closed {
			return
		}
		e.frames = e.frames[:len(e.frames)-1]
	}
}

// eligible reports whether a line sits directly at top level or directly in the
// body of the innermost frame. Lines nested inside function bodies are skipped.
func (e *symbolExtractor) eligible(line string) bool {
	if e.spec.blocks == blockIndent {
		indent := IndentOf(line)
		if len(e.frames) == 0 {
			return indent == 0
		}
		return indent == e.frames[len(e.frames)-1].bodyIndent
	}
	if len(e.frames) == 0 {
		return e.depth == 0
	}
	return e.depth == e.frames[len(e.frames)-1].bodyDepth
}

// container returns the innermost named frame, if any
func (e *symbolExtractor) container() (string, bool) {
	if len(e.frames) == 0 {
		return "", false
	}
	top := e.frames[len(e.frames)-1]
	if top.transparent {
		return "", false
	}
	return top.name, true
}

func (e *symbolExtractor) matchLine(i int, line, trimmed string) {
	for _, scope := range e.spec.scopes {
		if scope.MatchString(trimmed) {
			e.pushFrame(i, line, "", true)
			return
		}
	}

	parent, inContainer := e.container()
	reserved := reservedNames[firstWord(trimmed)]

	for _, rule := range e.spec.symbols {
		if rule.inContainer && (!inContainer || reserved) {
			continue
		}
		if rule.topLevel && (IndentOf(line) != 0 || len(e.frames) > 0) {
			continue
		}

		m := rule.pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		group := 1
		if rule.nameGroup > 0 {
			group = rule.nameGroup
		}
		name := m[group]
		if name == "" || (rule.inContainer && reservedNames[name]) {
			continue
		}

		if rule.scopeOnly {
			e.pushFrame(i, line, name, false)
			return
		}

		endIdx := FindBlockEnd(e.lines, i, e.spec.lang, e.scanLimit)
		sym := types.Symbol{
			Name:      name,
			Kind:      rule.kind,
			FilePath:  e.path,
			StartLine: i + 1,
			EndLine:   endIdx + 1,
			Signature: types.TruncateSignature(trimmed),
			Exported:  e.isExported(trimmed, name),
		}

		switch {
		case rule.parentGroup > 0:
			sym.Parent = m[rule.parentGroup]
		case inContainer:
			sym.Parent = parent
			if sym.Kind == types.KindFunction {
				sym.Kind = types.KindMethod
			}
		}

		e.symbols = append(e.symbols, sym)

		if sym.IsContainer() {
			e.pushFrame(i, line, name, false)
		}
		return
	}
}

func (e *symbolExtractor) pushFrame(i int, line, name string, transparent bool) {
	endIdx := FindBlockEnd(e.lines, i, e.spec.lang, e.scanLimit)
	if endIdx <= i {
		return
	}

	frame := scopeFrame{
		name:        name,
		transparent: transparent,
		endIdx:      endIdx,
		bodyDepth:   e.depth + 1,
	}
	if e.spec.blocks == blockIndent {
		frame.bodyIndent = IndentOf(line) + 1
		for j := i + 1; j <= endIdx; j++ {
			if e.kinds[j] == lineCode {
				frame.bodyIndent = IndentOf(e.lines[j])
				break
			}
		}
	}
	e.frames = append(e.frames, frame)
}

func firstWord(trimmed string) string {
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return !(r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if end < 0 {
		return trimmed
	}
	return trimmed[:end]
}

// collectExports lists exported top-level names plus names re-exported by export lists
func collectExports(symbols []types.Symbol, lines []string, kinds []lineKind, spec *languageSpec) []string {
	seen := make(map[string]bool)
	var exports []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			exports = append(exports, name)
		}
	}

	for i := range symbols {
		if symbols[i].Exported && symbols[i].Parent == "" {
			add(symbols[i].Name)
		}
	}

	if spec.lang == LangTypeScript || spec.lang == LangJavaScript {
		for i, line := range lines {
			if kinds[i] != lineCode {
				continue
			}
			if m := exportListPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				for _, name := range splitSpecifiers(m[1]) {
					add(name)
				}
			}
		}
	}
	return exports
}
