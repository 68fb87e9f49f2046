package synth

import (
	"sort"
	"strings"
)

// Input is everything needed to synthesize one source file.
type Input struct {
	Path     string
	Content  []byte
	Modules  ModuleResolver
	Builtins Builtins
}

// Output is the result of synthesizing one source file.
type Output struct {
	Content           []byte
	Table             *Table
	References        []Reference
	ReferencedModules []string
	Warnings          []*Error
}

// Synthesize runs the scan → bind → resolve pipeline over one file.
// Directive and host lines are handled in strict source order, so a
// symbol must be defined before its first local use. The first fatal
// error aborts the file; unrecognized directives are collected as
// warnings and passed through unchanged.
func Synthesize(in Input) (*Output, error) {
	out := &Output{Table: NewTable(in.Path)}
	res := &Resolver{Table: out.Table, Modules: in.Modules, Builtins: in.Builtins}

	var buf strings.Builder
	buf.Grow(len(in.Content))
	modules := make(map[string]bool)

	for i, raw := range SplitLines(in.Content) {
		lineNo := i + 1
		line := ScanLine(raw.Text)

		if line.Kind == LineDirective {
			switch line.Keyword {
			case DirectiveDefine:
				name, value, err := ParseDefine(line.Payload)
				if err != nil {
					return nil, inFile(locate(err, lineNo, 0), in.Path)
				}
				if err := out.Table.Define(name, value, lineNo); err != nil {
					return nil, inFile(err, in.Path)
				}
			default:
				w := newError(KindUnrecognizedDirective, lineNo, 0,
					"unrecognized directive %q", line.Keyword)
				w.File = in.Path
				out.Warnings = append(out.Warnings, w)
				buf.WriteString(raw.Text)
				buf.WriteString(raw.EOL)
			}
			continue
		}

		text, refs, err := res.ResolveLine(raw.Text, lineNo)
		if err != nil {
			return nil, inFile(err, in.Path)
		}
		for _, ref := range refs {
			if ref.Qualified() {
				modules[ref.Module] = true
			}
		}
		out.References = append(out.References, refs...)
		buf.WriteString(text)
		buf.WriteString(raw.EOL)
	}

	for m := range modules {
		out.ReferencedModules = append(out.ReferencedModules, m)
	}
	sort.Strings(out.ReferencedModules)
	out.Content = []byte(buf.String())
	return out, nil
}

// QualifiedModules pre-scans content for module.name markers on host
// lines and returns the distinct module names, sorted.
func QualifiedModules(content []byte) []string {
	seen := make(map[string]bool)
	for i, raw := range SplitLines(content) {
		if strings.HasPrefix(raw.Text, DirectiveSentinel) {
			continue
		}
		for _, ref := range ScanReferences(raw.Text, i+1) {
			if ref.Qualified() {
				seen[ref.Module] = true
			}
		}
	}
	mods := make([]string, 0, len(seen))
	for m := range seen {
		mods = append(mods, m)
	}
	sort.Strings(mods)
	return mods
}

func inFile(err error, path string) error {
	se, ok := AsError(err)
	if !ok {
		return err
	}
	cp := *se
	cp.File = path
	return &cp
}
