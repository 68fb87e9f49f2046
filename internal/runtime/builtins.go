package runtime

import "sort"

// Built-in symbol names.
const (
	BuiltinModule    = "__module__"
	BuiltinFile      = "__file__"
	BuiltinClassName = "__class_name__"
	BuiltinDefName   = "__def_name__"
)

// Builtins answers lookups for names a file does not define itself. It
// implements synth.Builtins.
//
// __class_name__ and __def_name__ are sticky: they hold the most recent
// class or function header at or above the marker's line, even after
// that block has ended.
type Builtins struct {
	values  map[string]string
	classes []Definition
	funcs   []Definition
}

// NewBuiltins creates a Builtins with the given static values and
// host-language definitions.
func NewBuiltins(values map[string]string, defs []Definition) *Builtins {
	b := &Builtins{values: make(map[string]string, len(values))}
	for k, v := range values {
		b.values[k] = v
	}
	for _, d := range defs {
		switch d.Kind {
		case DefClass:
			b.classes = append(b.classes, d)
		case DefFunction:
			b.funcs = append(b.funcs, d)
		}
	}
	return b
}

// Builtin returns the value of name as seen from line.
func (b *Builtins) Builtin(name string, line int) (string, bool) {
	switch name {
	case BuiltinClassName:
		return latestAt(b.classes, line)
	case BuiltinDefName:
		return latestAt(b.funcs, line)
	}
	v, ok := b.values[name]
	return v, ok
}

// Names returns the static built-in names, sorted.
func (b *Builtins) Names() []string {
	names := make([]string, 0, len(b.values))
	for k := range b.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// latestAt returns the name of the last definition starting at or before
// line. defs is sorted by line.
func latestAt(defs []Definition, line int) (string, bool) {
	i := sort.Search(len(defs), func(i int) bool { return defs[i].Line > line })
	if i == 0 {
		return "", false
	}
	return defs[i-1].Name, true
}
