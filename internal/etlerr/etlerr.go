// Package etlerr classifies pipeline failures into a small set of kinds so
// the driver can pick an exit code and callers can branch with errors.Is.
package etlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the class of a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindFileNotFound: an input path is missing or unreadable.
	KindFileNotFound
	// KindParse: malformed delimited content or a categories row that does
	// not fit the derived category schema.
	KindParse
	// KindSchema: a required column is missing or an identifier is unusable.
	KindSchema
	// KindIO: the destination store cannot be opened or written.
	KindIO
	// KindConversion: a category token's value is not numeric.
	KindConversion
)

// String returns the kind's name as used in error messages.
func (k Kind) String() string {
	switch k {
	case KindFileNotFound:
		return "file not found"
	case KindParse:
		return "parse error"
	case KindSchema:
		return "schema error"
	case KindIO:
		return "io error"
	case KindConversion:
		return "conversion error"
	default:
		return "error"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrParse        = errors.New("parse error")
	ErrSchema       = errors.New("schema error")
	ErrIO           = errors.New("io error")
	ErrConversion   = errors.New("conversion error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindFileNotFound:
		return ErrFileNotFound
	case KindParse:
		return ErrParse
	case KindSchema:
		return ErrSchema
	case KindIO:
		return ErrIO
	case KindConversion:
		return ErrConversion
	}
	return nil
}

// Error carries a Kind plus enough location context to point an operator at
// the offending file, line or column.
type Error struct {
	Kind   Kind
	Op     string // stage or function, e.g. "loader: load messages"
	Path   string // file path or table name, when known
	Line   int    // 1-based input line, 0 if unknown
	Column string // column name, when relevant
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " [column %s]", e.Column)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New builds an *Error of the given kind around a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitPanic        = 3
	ExitFileNotFound = 4
	ExitParse        = 5
	ExitSchema       = 6
	ExitConversion   = 7
	ExitIO           = 8
	ExitConfigError  = 10
)

// ErrInvalidConfig marks configuration validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, ErrInvalidConfig) {
		return ExitConfigError
	}
	switch KindOf(err) {
	case KindFileNotFound:
		return ExitFileNotFound
	case KindParse:
		return ExitParse
	case KindSchema:
		return ExitSchema
	case KindConversion:
		return ExitConversion
	case KindIO:
		return ExitIO
	}
	return ExitGeneralError
}
