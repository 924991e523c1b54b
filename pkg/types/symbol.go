package types

import "errors"

// SymbolKind represents the type of code construct a symbol was recovered from
type SymbolKind string

const (
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindEnum      SymbolKind = "enum"
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindProperty  SymbolKind = "property"
	KindVariable  SymbolKind = "variable"
	KindConstant  SymbolKind = "constant"
	KindImport    SymbolKind = "import"
	KindExport    SymbolKind = "export"
)

// MaxSignatureLength bounds the signature text kept on a symbol (in runes)
const MaxSignatureLength = 200

// Symbol represents a named construct recovered from source by pattern matching.
// Symbols are recomputed every time a file is indexed and never persisted on their own.
type Symbol struct {
	Name     string
	Kind     SymbolKind
	FilePath string

	// Location (1-indexed, inclusive)
	StartLine int
	EndLine   int

	Signature string
	Exported  bool

	// Parent is the enclosing class/interface name for nested symbols
	Parent string
}

// IsContainer reports whether the symbol opens a scope that nested methods attach to
func (s *Symbol) IsContainer() bool {
	return s.Kind == KindClass || s.Kind == KindInterface
}

// IsCallable reports whether the symbol is a function or method
func (s *Symbol) IsCallable() bool {
	return s.Kind == KindFunction || s.Kind == KindMethod
}

// LineCount returns the number of lines covered by the symbol
func (s *Symbol) LineCount() int {
	if s.EndLine < s.StartLine {
		return 0
	}
	return s.EndLine - s.StartLine + 1
}

// ValidateKind checks if the symbol kind is valid
func (s *Symbol) ValidateKind() error {
	switch s.Kind {
	case KindClass, KindInterface, KindType, KindEnum, KindFunction, KindMethod,
		KindProperty, KindVariable, KindConstant, KindImport, KindExport:
		return nil
	default:
		return errors.New("invalid symbol kind")
	}
}

// Validate performs comprehensive validation of the symbol
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	if err := s.ValidateKind(); err != nil {
		return err
	}

	if s.StartLine <= 0 || s.EndLine <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.StartLine > s.EndLine {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	// Only nested symbols can carry a parent, and a method always has one
	if s.Kind == KindMethod && s.Parent == "" {
		return errors.New("methods must have a parent symbol")
	}

	return nil
}

// TruncateSignature trims a declaration line to MaxSignatureLength runes
func TruncateSignature(line string) string {
	runes := []rune(line)
	if len(runes) <= MaxSignatureLength {
		return line
	}
	return string(runes[:MaxSignatureLength])
}
