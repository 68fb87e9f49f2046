package synth

// Symbol is an immutable name → text binding created by a define directive.
type Symbol struct {
	Name  string
	Value string
	File  string
	Line  int
}

// ModuleResolver answers qualified module.name lookups against files that
// have already been processed. Implementations return *Error values of
// KindUnknownModule or KindUnknownSymbol.
type ModuleResolver interface {
	ResolveQualified(module, name string) (string, error)
}

// Table holds one file's definitions. Bindings are write-once: there is
// no redefinition and no undefine.
type Table struct {
	file    string
	symbols map[string]*Symbol
	order   []string
}

// NewTable creates an empty table for file.
func NewTable(file string) *Table {
	return &Table{
		file:    file,
		symbols: make(map[string]*Symbol),
	}
}

// File returns the path of the owning file.
func (t *Table) File() string {
	return t.file
}

// Define binds name to value. It fails if name is not an identifier or is
// already bound in this table.
func (t *Table) Define(name, value string, line int) error {
	if !ValidIdentifier(name) {
		return newError(KindInvalidIdentifier, line, 0, "invalid symbol name %q", name)
	}
	if prev, ok := t.symbols[name]; ok {
		return newError(KindDuplicateSymbol, line, 0,
			"symbol %q already defined at line %d", name, prev.Line)
	}
	t.symbols[name] = &Symbol{Name: name, Value: value, File: t.file, Line: line}
	t.order = append(t.order, name)
	return nil
}

// Resolve returns the value bound to name.
func (t *Table) Resolve(name string) (string, error) {
	sym, ok := t.symbols[name]
	if !ok {
		return "", Errorf(KindUnknownSymbol, "unknown symbol %q", name)
	}
	return sym.Value, nil
}

// Lookup returns the symbol bound to name, if any.
func (t *Table) Lookup(name string) (Symbol, bool) {
	sym, ok := t.symbols[name]
	if !ok {
		return Symbol{}, false
	}
	return *sym, true
}

// Len returns the number of bound symbols.
func (t *Table) Len() int {
	return len(t.order)
}

// Symbols returns the bound symbols in definition order.
func (t *Table) Symbols() []Symbol {
	out := make([]Symbol, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.symbols[name])
	}
	return out
}
