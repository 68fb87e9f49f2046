package synth

import (
	"regexp"
	"strings"
)

// MarkerSentinel opens and closes a substitution marker.
const MarkerSentinel = '$'

// Quote is the quoting style requested by a marker.
type Quote byte

const (
	QuoteNone   Quote = 0
	QuoteSingle Quote = '\''
	QuoteDouble Quote = '"'
)

func (q Quote) String() string {
	switch q {
	case QuoteSingle:
		return "single"
	case QuoteDouble:
		return "double"
	default:
		return "none"
	}
}

// Reference is one substitution marker found on a host-language line.
type Reference struct {
	Raw    string
	Module string // empty for unqualified references
	Name   string
	Quote  Quote
	Line   int
	Column int // 1-based byte column of the opening '$'
}

// Qualified reports whether the reference names another module.
func (r Reference) Qualified() bool {
	return r.Module != ""
}

// Key returns the referenced name as written, e.g. "a.VERSION".
func (r Reference) Key() string {
	if r.Module == "" {
		return r.Name
	}
	return r.Module + "." + r.Name
}

// Builtins supplies values for names not defined in the file itself.
// line is the 1-based source line of the marker.
type Builtins interface {
	Builtin(name string, line int) (string, bool)
}

// Resolver rewrites host-language lines by replacing markers with symbol
// values. Local names are looked up in Table, then in Builtins; qualified
// names go to Modules.
type Resolver struct {
	Table    *Table
	Modules  ModuleResolver
	Builtins Builtins
}

var moduleRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-]*$`)

// ParseMarkerName splits the text between the marker delimiters into an
// optional module and a symbol name.
func ParseMarkerName(s string) (module, name string, err error) {
	if s == "" {
		return "", "", Errorf(KindInvalidIdentifier, "empty substitution marker")
	}
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		name = parts[0]
	case 2:
		module, name = parts[0], parts[1]
		if !moduleRe.MatchString(module) {
			return "", "", Errorf(KindInvalidIdentifier, "invalid module name %q in marker", module)
		}
	default:
		return "", "", Errorf(KindInvalidIdentifier, "marker %q has more than one qualifier", s)
	}
	if !ValidIdentifier(name) {
		return "", "", Errorf(KindInvalidIdentifier, "invalid symbol name %q in marker", name)
	}
	return module, name, nil
}

// nextMarker locates the marker that starts at or after from. It returns
// the index of the opening '$', the quote style, the name span, and the
// index just past the closing '$'. ok is false when text has no more '$'.
func nextMarker(text string, from int) (start int, quote Quote, name string, end int, ok bool, err *Error) {
	rel := strings.IndexByte(text[from:], MarkerSentinel)
	if rel < 0 {
		return 0, QuoteNone, "", 0, false, nil
	}
	start = from + rel
	j := start + 1
	if j < len(text) && (text[j] == '\'' || text[j] == '"') {
		quote = Quote(text[j])
		j++
	}
	closeRel := strings.IndexByte(text[j:], MarkerSentinel)
	if closeRel < 0 {
		return start, quote, "", 0, true,
			newError(KindUnterminatedMarker, 0, start+1, "unterminated substitution marker %q", text[start:])
	}
	return start, quote, text[j : j+closeRel], j + closeRel + 1, true, nil
}

// ResolveLine replaces every marker in text, left to right. Substituted
// values are inserted literally and never rescanned.
func (r *Resolver) ResolveLine(text string, line int) (string, []Reference, error) {
	var (
		out  strings.Builder
		refs []Reference
		pos  int
	)
	for {
		start, quote, raw, end, ok, merr := nextMarker(text, pos)
		if !ok {
			break
		}
		if merr != nil {
			merr.Line = line
			return "", refs, merr
		}
		module, name, err := ParseMarkerName(raw)
		if err != nil {
			return "", refs, locate(err, line, start+1)
		}
		ref := Reference{
			Raw:    text[start:end],
			Module: module,
			Name:   name,
			Quote:  quote,
			Line:   line,
			Column: start + 1,
		}
		value, err := r.lookup(ref)
		if err != nil {
			return "", refs, locate(err, line, start+1)
		}
		refs = append(refs, ref)
		out.WriteString(text[pos:start])
		if quote != QuoteNone {
			out.WriteByte(byte(quote))
			out.WriteString(value)
			out.WriteByte(byte(quote))
		} else {
			out.WriteString(value)
		}
		pos = end
	}
	if pos == 0 {
		return text, refs, nil
	}
	out.WriteString(text[pos:])
	return out.String(), refs, nil
}

func (r *Resolver) lookup(ref Reference) (string, error) {
	if ref.Qualified() {
		if r.Modules == nil {
			return "", Errorf(KindUnknownModule, "unknown module %q", ref.Module)
		}
		return r.Modules.ResolveQualified(ref.Module, ref.Name)
	}
	if r.Table != nil {
		if v, err := r.Table.Resolve(ref.Name); err == nil {
			return v, nil
		}
	}
	if r.Builtins != nil {
		if v, ok := r.Builtins.Builtin(ref.Name, ref.Line); ok {
			return v, nil
		}
	}
	return "", Errorf(KindUnknownSymbol, "unknown symbol %q", ref.Name)
}

// locate attaches a line and column to a synthesis error. Other errors
// (storage failures) pass through untouched.
func locate(err error, line, col int) error {
	se, ok := AsError(err)
	if !ok {
		return err
	}
	cp := *se
	if cp.Line == 0 {
		cp.Line = line
	}
	if cp.Column == 0 {
		cp.Column = col
	}
	return &cp
}

// ScanReferences returns the well-formed markers on a line without
// resolving them. Malformed markers are skipped and scanning stops at an
// unterminated one; the full pass reports those properly.
func ScanReferences(text string, line int) []Reference {
	var refs []Reference
	pos := 0
	for {
		start, quote, raw, end, ok, merr := nextMarker(text, pos)
		if !ok || merr != nil {
			return refs
		}
		pos = end
		module, name, err := ParseMarkerName(raw)
		if err != nil {
			continue
		}
		refs = append(refs, Reference{
			Raw:    text[start:end],
			Module: module,
			Name:   name,
			Quote:  quote,
			Line:   line,
			Column: start + 1,
		})
	}
}
