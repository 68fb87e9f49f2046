package synth

import (
	"bytes"
	"regexp"
	"strings"
)

// DirectiveSentinel starts every directive line.
const DirectiveSentinel = "#$"

// DirectiveDefine is the only recognized directive keyword.
const DirectiveDefine = "define"

// LineKind distinguishes directive lines from host-language lines.
type LineKind int

const (
	LineHost LineKind = iota
	LineDirective
)

func (k LineKind) String() string {
	if k == LineDirective {
		return "directive"
	}
	return "host"
}

// Line is a classified source line.
type Line struct {
	Kind    LineKind
	Keyword string // directive lines only
	Payload string // directive lines only, trimmed
	Text    string // raw text without terminator
}

// RawLine is one line of input together with its original terminator
// ("\n", "\r\n", or "" for an unterminated final line).
type RawLine struct {
	Text string
	EOL  string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is a legal symbol name.
func ValidIdentifier(name string) bool {
	return identRe.MatchString(name)
}

// ScanLine classifies a single line. It has no side effects.
func ScanLine(text string) Line {
	if !strings.HasPrefix(text, DirectiveSentinel) {
		return Line{Kind: LineHost, Text: text}
	}
	rest := strings.TrimLeft(text[len(DirectiveSentinel):], " \t")
	keyword := rest
	payload := ""
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		keyword = rest[:i]
		payload = strings.TrimSpace(rest[i:])
	}
	return Line{Kind: LineDirective, Keyword: keyword, Payload: payload, Text: text}
}

// ParseDefine splits a define payload into name and value. The value runs
// from the first non-blank after the name to the last non-blank of the
// payload; interior whitespace and quotes are kept verbatim.
func ParseDefine(payload string) (name, value string, err error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", "", Errorf(KindInvalidIdentifier, "define: missing symbol name")
	}
	name = payload
	if i := strings.IndexAny(payload, " \t"); i >= 0 {
		name = payload[:i]
		value = strings.TrimSpace(payload[i:])
	}
	if !ValidIdentifier(name) {
		return "", "", Errorf(KindInvalidIdentifier, "define: invalid symbol name %q", name)
	}
	return name, value, nil
}

// SplitLines breaks content into lines, keeping each line's terminator so
// that joining Text+EOL reproduces content exactly.
func SplitLines(content []byte) []RawLine {
	var lines []RawLine
	for len(content) > 0 {
		i := bytes.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, RawLine{Text: string(content)})
			break
		}
		text := content[:i]
		eol := "\n"
		if len(text) > 0 && text[len(text)-1] == '\r' {
			text = text[:len(text)-1]
			eol = "\r\n"
		}
		lines = append(lines, RawLine{Text: string(text), EOL: eol})
		content = content[i+1:]
	}
	return lines
}
