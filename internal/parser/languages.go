package parser

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/dshills/codeindex/pkg/types"
)

// Language identifies the rule table used to analyze a file
type Language int

const (
	LangUnknown Language = iota
	LangTypeScript
	LangJavaScript
	LangPython
	LangGo
	LangJava
	LangRust
	LangCSharp
)

// String returns the language name, or "" for unsupported files
func (l Language) String() string {
	switch l {
	case LangTypeScript:
		return "typescript"
	case LangJavaScript:
		return "javascript"
	case LangPython:
		return "python"
	case LangGo:
		return "go"
	case LangJava:
		return "java"
	case LangRust:
		return "rust"
	case LangCSharp:
		return "csharp"
	default:
		return ""
	}
}

// extensionTable maps lower-case file extensions to languages
var extensionTable = map[string]Language{
	".ts":   LangTypeScript,
	".tsx":  LangTypeScript,
	".mts":  LangTypeScript,
	".cts":  LangTypeScript,
	".js":   LangJavaScript,
	".jsx":  LangJavaScript,
	".mjs":  LangJavaScript,
	".cjs":  LangJavaScript,
	".py":   LangPython,
	".pyi":  LangPython,
	".go":   LangGo,
	".java": LangJava,
	".rs":   LangRust,
	".cs":   LangCSharp,
}

// DetectLanguage resolves a file path to a language by extension
func DetectLanguage(path string) Language {
	return extensionTable[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions returns every extension with a rule table
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionTable))
	for ext := range extensionTable {
		exts = append(exts, ext)
	}
	return exts
}

// blockStyle selects the block-end strategy
type blockStyle int

const (
	blockBraces blockStyle = iota
	blockIndent
)

// commentPair is a block comment delimiter pair
type commentPair struct {
	start string
	end   string
}

// importRule turns a matching line into an ImportInfo
type importRule struct {
	pattern *regexp.Regexp
	build   func(m []string) types.ImportInfo
}

// symbolRule describes one declaration pattern. The name is always capture group 1
// unless nameGroup is set; parentGroup names the receiver for Go methods.
type symbolRule struct {
	pattern     *regexp.Regexp
	kind        types.SymbolKind
	nameGroup   int
	parentGroup int

	// inContainer restricts the rule to lines nested in a class/interface
	inContainer bool
	// topLevel restricts the rule to unindented lines
	topLevel bool
	// scopeOnly marks declarations that only open a parent scope (Rust impl blocks)
	scopeOnly bool
}

// languageSpec is the tagged-variant entry for one language
type languageSpec struct {
	lang         Language
	lineComments []string
	blockComment []commentPair
	blocks       blockStyle

	imports []importRule
	// importBlock opens a multi-line import group (Go); importItem matches its lines
	importBlock *regexp.Regexp
	importItem  *importRule

	symbols []symbolRule
	// scopes open transparent namespaces whose body counts as top level
	scopes []*regexp.Regexp
	// exported reads a visibility keyword; nil means the language has none and
	// every symbol counts as exported
	exported func(line, name string) bool
	// convention is the naming rule applied instead when Config.NamingConventions is set
	convention func(name string) bool
}

var specs = map[Language]*languageSpec{}

// fallbackSpec classifies lines of unsupported files; it has no rules
var fallbackSpec = &languageSpec{
	lang:         LangUnknown,
	lineComments: []string{"//", "#"},
	blockComment: []commentPair{{"/*", "*/"}},
	blocks:       blockBraces,
}

func specFor(lang Language) *languageSpec {
	if s, ok := specs[lang]; ok {
		return s
	}
	return fallbackSpec
}

// reservedNames are control-flow keywords that method-like patterns must not report
var reservedNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "else": true, "new": true, "do": true,
	"try": true, "using": true, "lock": true, "foreach": true, "typeof": true,
	"sizeof": true, "await": true, "yield": true, "super": true, "this": true,
	"throw": true, "delete": true, "in": true, "of": true,
}

func splitSpecifiers(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "()"))
		if part == "" {
			continue
		}
		// "a as b" keeps the local name
		if fields := strings.Fields(part); len(fields) == 3 && fields[1] == "as" {
			part = fields[2]
		}
		part = strings.TrimPrefix(part, "type ")
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

func hasKeyword(line string, words ...string) bool {
	for _, w := range words {
		if strings.HasPrefix(line, w+" ") || strings.Contains(line, " "+w+" ") {
			return true
		}
	}
	return false
}

const (
	jsIdent     = `[A-Za-z_$][\w$]*`
	jsQuoted    = `['"]([^'"]+)['"]`
	memberMods  = `(?:(?:public|private|protected|internal|static|readonly|async|override|abstract|virtual|sealed|final|synchronized|native|default|extern|unsafe|partial|new|get|set)\s+)*`
	javaMethod  = `^` + memberMods + `(?:<[^>]+>\s+)?[\w<>\[\],.?]+(?:\s*<[^>]*>)?(?:\[\])*\s+(\w+)\s*\(`
	jsTsExports = `^export\s+(?:default\s+)?`
)

func init() {
	jsImports := []importRule{
		{
			pattern: regexp.MustCompile(`^import\s+type\s+\{([^}]*)\}\s+from\s+` + jsQuoted),
			build: func(m []string) types.ImportInfo {
				return types.ImportInfo{Source: m[2], Specifiers: splitSpecifiers(m[1])}
			},
		},
		{
			pattern: regexp.MustCompile(`^import\s+\*\s+as\s+(` + jsIdent + `)\s+from\s+` + jsQuoted),
			build: func(m []string) types.ImportInfo {
				return types.ImportInfo{Source: m[2], Specifiers: []string{m[1]}, IsNamespace: true}
			},
		},
		{
			pattern: regexp.MustCompile(`^import\s+(` + jsIdent + `)\s*,\s*\{([^}]*)\}\s+from\s+` + jsQuoted),
			build: func(m []string) types.ImportInfo {
				specs := append([]string{m[1]}, splitSpecifiers(m[2])...)
				return types.ImportInfo{Source: m[3], Specifiers: specs, IsDefault: true}
			},
		},
		{
			pattern: regexp.MustCompile(`^import\s+\{([^}]*)\}\s+from\s+` + jsQuoted),
			build: func(m []string) types.ImportInfo {
				return types.ImportInfo{Source: m[2], Specifiers: splitSpecifiers(m[1])}
			},
		},
		{
			pattern: regexp.MustCompile(`^import\s+(` + jsIdent + `)\s+from\s+` + jsQuoted),
			build: func(m []string) types.ImportInfo {
				return types.ImportInfo{Source: m[2], Specifiers: []string{m[1]}, IsDefault: true}
			},
		},
		{
			pattern: regexp.MustCompile(`^import\s+` + jsQuoted),
			build: func(m []string) types.ImportInfo {
				return types.ImportInfo{Source: m[1]}
			},
		},
		{
			pattern: regexp.MustCompile(`^(?:const|let|var)\s+(?:\{([^}]*)\}|(` + jsIdent + `))\s*=\s*require\(\s*` + jsQuoted + `\s*\)`),
			build: func(m []string) types.ImportInfo {
				if m[2] != "" {
					return types.ImportInfo{Source: m[3], Specifiers: []string{m[2]}, IsDefault: true}
				}
				return types.ImportInfo{Source: m[3], Specifiers: splitSpecifiers(m[1])}
			},
		},
	}

	jsExported := func(line, _ string) bool {
		return strings.HasPrefix(line, "export ") || hasKeyword(line, "public")
	}

	jsSymbols := []symbolRule{
		{pattern: regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(` + jsIdent + `)`), kind: types.KindClass},
		{pattern: regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(` + jsIdent + `)`), kind: types.KindFunction},
		{pattern: regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(` + jsIdent + `)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:function\b|(?:\([^)]*\)|` + jsIdent + `)\s*(?::\s*[^=]+)?=>)`), kind: types.KindFunction},
		{pattern: regexp.MustCompile(`^(?:export\s+)?const\s+([A-Z][A-Z0-9_]*)\s*(?::[^=]+)?=`), kind: types.KindConstant},
		{pattern: regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(` + jsIdent + `)`), kind: types.KindVariable},
		{pattern: regexp.MustCompile(`^` + memberMods + `\*?(` + jsIdent + `)\s*(?:<[^>]*>)?\s*\([^)]*\)?\s*(?::\s*[^{;]+)?\{?\s*\}?\s*$`), kind: types.KindFunction, inContainer: true},
		{pattern: regexp.MustCompile(`^` + memberMods + `(` + jsIdent + `)\s*[?!]?\s*:\s*[^;(]+;?\s*$`), kind: types.KindProperty, inContainer: true},
	}

	tsSymbols := append([]symbolRule{
		{pattern: regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?interface\s+(` + jsIdent + `)`), kind: types.KindInterface},
		{pattern: regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?type\s+(` + jsIdent + `)\s*(?:<[^>]*>)?\s*=`), kind: types.KindType},
		{pattern: regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?(?:const\s+)?enum\s+(` + jsIdent + `)`), kind: types.KindEnum},
	}, jsSymbols...)

	specs[LangTypeScript] = &languageSpec{
		lang:         LangTypeScript,
		lineComments: []string{"//"},
		blockComment: []commentPair{{"/*", "*/"}},
		blocks:       blockBraces,
		imports:      jsImports,
		symbols:      tsSymbols,
		scopes:       []*regexp.Regexp{regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?(?:namespace|module)\s+[\w.]+\s*\{`)},
		exported:     jsExported,
	}
	specs[LangJavaScript] = &languageSpec{
		lang:         LangJavaScript,
		lineComments: []string{"//"},
		blockComment: []commentPair{{"/*", "*/"}},
		blocks:       blockBraces,
		imports:      jsImports,
		symbols:      jsSymbols,
		exported:     jsExported,
	}

	specs[LangPython] = &languageSpec{
		lang:         LangPython,
		lineComments: []string{"#"},
		blockComment: []commentPair{{`"""`, `"""`}, {`'''`, `'''`}},
		blocks:       blockIndent,
		imports: []importRule{
			{
				pattern: regexp.MustCompile(`^from\s+([\w.]+)\s+import\s+(.+)$`),
				build: func(m []string) types.ImportInfo {
					list := strings.TrimSpace(m[2])
					if list == "*" {
						return types.ImportInfo{Source: m[1], IsNamespace: true}
					}
					return types.ImportInfo{Source: m[1], Specifiers: splitSpecifiers(list)}
				},
			},
			{
				pattern: regexp.MustCompile(`^import\s+([\w.]+)(?:\s+as\s+(\w+))?`),
				build: func(m []string) types.ImportInfo {
					info := types.ImportInfo{Source: m[1], IsNamespace: true}
					if m[2] != "" {
						info.Specifiers = []string{m[2]}
					}
					return info
				},
			},
		},
		symbols: []symbolRule{
			{pattern: regexp.MustCompile(`^class\s+([A-Za-z_]\w*)`), kind: types.KindClass},
			{pattern: regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_]\w*)`), kind: types.KindFunction},
			{pattern: regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s*(?::[^=]+)?=[^=]`), kind: types.KindConstant, topLevel: true},
			{pattern: regexp.MustCompile(`^([a-z_]\w*)\s*(?::[^=]+)?=[^=]`), kind: types.KindVariable, topLevel: true},
		},
		convention: func(name string) bool {
			return !strings.HasPrefix(name, "_")
		},
	}

	goImportItem := importRule{
		pattern: regexp.MustCompile(`^(?:([\w.]+)\s+)?"([^"]+)"`),
		build: func(m []string) types.ImportInfo {
			info := types.ImportInfo{Source: m[2]}
			switch m[1] {
			case "":
			case ".":
				info.IsNamespace = true
			default:
				info.Specifiers = []string{m[1]}
			}
			return info
		},
	}
	specs[LangGo] = &languageSpec{
		lang:         LangGo,
		lineComments: []string{"//"},
		blockComment: []commentPair{{"/*", "*/"}},
		blocks:       blockBraces,
		imports: []importRule{
			{
				pattern: regexp.MustCompile(`^import\s+(?:([\w.]+)\s+)?"([^"]+)"`),
				build:   goImportItem.build,
			},
		},
		importBlock: regexp.MustCompile(`^import\s*\($`),
		importItem:  &goImportItem,
		symbols: []symbolRule{
			{pattern: regexp.MustCompile(`^func\s+\(\s*\w*\s*\*?\s*([A-Za-z_]\w*)(?:\[[^\]]*\])?\s*\)\s*([A-Za-z_]\w*)`), kind: types.KindMethod, nameGroup: 2, parentGroup: 1},
			{pattern: regexp.MustCompile(`^func\s+([A-Za-z_]\w*)`), kind: types.KindFunction},
			{pattern: regexp.MustCompile(`^type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+interface\b`), kind: types.KindInterface},
			{pattern: regexp.MustCompile(`^type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+struct\b`), kind: types.KindClass},
			{pattern: regexp.MustCompile(`^type\s+([A-Za-z_]\w*)`), kind: types.KindType},
			{pattern: regexp.MustCompile(`^const\s+([A-Za-z_]\w*)`), kind: types.KindConstant},
			{pattern: regexp.MustCompile(`^var\s+([A-Za-z_]\w*)`), kind: types.KindVariable},
		},
		convention: func(name string) bool {
			for _, r := range name {
				return unicode.IsUpper(r)
			}
			return false
		},
	}

	javaExported := func(line, _ string) bool {
		return hasKeyword(line, "public")
	}
	javaTypeMods := `^(?:(?:public|protected|private|internal|static|final|abstract|sealed|non-sealed|strictfp|partial|readonly|ref)\s+)*`

	specs[LangJava] = &languageSpec{
		lang:         LangJava,
		lineComments: []string{"//"},
		blockComment: []commentPair{{"/*", "*/"}},
		blocks:       blockBraces,
		imports: []importRule{
			{
				pattern: regexp.MustCompile(`^import\s+(static\s+)?([\w.]+?)(\.\*)?\s*;`),
				build: func(m []string) types.ImportInfo {
					info := types.ImportInfo{Source: m[2], IsNamespace: m[3] != ""}
					if !info.IsNamespace {
						parts := strings.Split(m[2], ".")
						info.Specifiers = []string{parts[len(parts)-1]}
					}
					return info
				},
			},
		},
		symbols: []symbolRule{
			{pattern: regexp.MustCompile(javaTypeMods + `(?:class|record)\s+(\w+)`), kind: types.KindClass},
			{pattern: regexp.MustCompile(javaTypeMods + `@?interface\s+(\w+)`), kind: types.KindInterface},
			{pattern: regexp.MustCompile(javaTypeMods + `enum\s+(\w+)`), kind: types.KindEnum},
			{pattern: regexp.MustCompile(javaMethod), kind: types.KindFunction, inContainer: true},
		},
		exported: javaExported,
	}

	specs[LangCSharp] = &languageSpec{
		lang:         LangCSharp,
		lineComments: []string{"//"},
		blockComment: []commentPair{{"/*", "*/"}},
		blocks:       blockBraces,
		imports: []importRule{
			{
				pattern: regexp.MustCompile(`^using\s+(static\s+)?(?:(\w+)\s*=\s*)?([\w.]+)\s*;`),
				build: func(m []string) types.ImportInfo {
					info := types.ImportInfo{Source: m[3], IsNamespace: m[2] == ""}
					if m[2] != "" {
						info.Specifiers = []string{m[2]}
					}
					return info
				},
			},
		},
		symbols: []symbolRule{
			{pattern: regexp.MustCompile(javaTypeMods + `(?:class|record|struct)\s+(\w+)`), kind: types.KindClass},
			{pattern: regexp.MustCompile(javaTypeMods + `interface\s+(\w+)`), kind: types.KindInterface},
			{pattern: regexp.MustCompile(javaTypeMods + `enum\s+(\w+)`), kind: types.KindEnum},
			{pattern: regexp.MustCompile(javaMethod), kind: types.KindFunction, inContainer: true},
			{pattern: regexp.MustCompile(`^` + memberMods + `[\w<>\[\],.?]+\s+(\w+)\s*\{\s*(?:get|set|init)?`), kind: types.KindProperty, inContainer: true},
		},
		scopes:   []*regexp.Regexp{regexp.MustCompile(`^namespace\s+[\w.]+`)},
		exported: javaExported,
	}

	rustVis := `^(?:pub(?:\([^)]*\))?\s+)?`
	specs[LangRust] = &languageSpec{
		lang:         LangRust,
		lineComments: []string{"//"},
		blockComment: []commentPair{{"/*", "*/"}},
		blocks:       blockBraces,
		imports: []importRule{
			{
				pattern: regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?use\s+([\w:]+?)(?:::\{([^}]*)\})?(?:::\*)?(?:\s+as\s+(\w+))?\s*;`),
				build: func(m []string) types.ImportInfo {
					info := types.ImportInfo{Source: m[1]}
					switch {
					case m[2] != "":
						info.Specifiers = splitSpecifiers(m[2])
					case m[3] != "":
						info.Specifiers = []string{m[3]}
					default:
						parts := strings.Split(m[1], "::")
						info.Specifiers = []string{parts[len(parts)-1]}
					}
					return info
				},
			},
		},
		symbols: []symbolRule{
			{pattern: regexp.MustCompile(rustVis + `(?:const\s+)?(?:async\s+)?(?:unsafe\s+)?(?:extern\s+"[^"]*"\s+)?fn\s+(\w+)`), kind: types.KindFunction},
			{pattern: regexp.MustCompile(rustVis + `struct\s+(\w+)`), kind: types.KindClass},
			{pattern: regexp.MustCompile(rustVis + `(?:unsafe\s+)?trait\s+(\w+)`), kind: types.KindInterface},
			{pattern: regexp.MustCompile(rustVis + `enum\s+(\w+)`), kind: types.KindEnum},
			{pattern: regexp.MustCompile(rustVis + `type\s+(\w+)`), kind: types.KindType},
			{pattern: regexp.MustCompile(rustVis + `(?:const|static)\s+(?:mut\s+)?(\w+)`), kind: types.KindConstant},
			{pattern: regexp.MustCompile(`^(?:unsafe\s+)?impl(?:<[^>]*>)?\s+(?:[\w:]+(?:<[^>]*>)?\s+for\s+)?(\w+)`), kind: types.KindClass, scopeOnly: true},
		},
		scopes: []*regexp.Regexp{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?mod\s+\w+\s*\{`)},
		exported: func(line, _ string) bool {
			return strings.HasPrefix(line, "pub")
		},
	}
}

// exportListPattern matches "export { a, b as c }" lines in JS/TS
var exportListPattern = regexp.MustCompile(jsTsExports + `\{([^}]*)\}`)
