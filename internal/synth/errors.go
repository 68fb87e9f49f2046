package synth

import (
	"errors"
	"fmt"
)

// Kind classifies a synthesis error.
type Kind string

const (
	KindInvalidIdentifier     Kind = "INVALID_IDENTIFIER"
	KindDuplicateSymbol       Kind = "DUPLICATE_SYMBOL"
	KindUnrecognizedDirective Kind = "UNRECOGNIZED_DIRECTIVE"
	KindUnknownSymbol         Kind = "UNKNOWN_SYMBOL"
	KindUnknownModule         Kind = "UNKNOWN_MODULE"
	KindUnterminatedMarker    Kind = "UNTERMINATED_MARKER"
	KindDependencyCycle       Kind = "DEPENDENCY_CYCLE"
	KindPrelude               Kind = "PRELUDE"
)

// Error is a diagnostic tied to a source location. Line and Column are
// 1-based; zero means the location is unknown.
type Error struct {
	Kind   Kind
	File   string
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
	if loc != "" {
		msg = loc + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error aborts processing of its file.
// Unrecognized directives are the only warnings.
func (e *Error) Fatal() bool {
	return e.Kind != KindUnrecognizedDirective
}

func newError(kind Kind, line, col int, format string, args ...any) *Error {
	return &Error{Kind: kind, Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

// Errorf builds an *Error of the given kind without location information.
// Callers that know the location fill in File/Line afterwards.
func Errorf(kind Kind, format string, args ...any) *Error {
	return newError(kind, 0, 0, format, args...)
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
