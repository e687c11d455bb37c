// Package failure holds the error taxonomy of a sync run: structured error
// codes attached by the transport adapters and the classification of any
// error into transient, user facing, internal or skippable failures.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a structured error condition. Codes are strings so they read well
// in logs.
type Code string

const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeInvalidConfig Code = "INVALID_CONFIGURATION"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNetwork       Code = "NETWORK_ERROR"
	CodeTimeout       Code = "TIMEOUT"
	CodeUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeSizeMismatch  Code = "SIZE_MISMATCH"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeUnknown       Code = "UNKNOWN"
)

// Kind is the outcome of classifying an error.
type Kind int

const (
	Unclassified Kind = iota
	Transient
	UserFacing
	Internal
	Skippable
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case UserFacing:
		return "user"
	case Internal:
		return "internal"
	case Skippable:
		return "skippable"
	default:
		return "unclassified"
	}
}

// Error is an error carrying a structured code and, optionally, a fixed kind
// that overrides classification.
type Error struct {
	Code    Code
	Kind    Kind
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
		return b.String()
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Path != "" {
			fmt.Fprintf(&b, " %q", e.Path)
		}
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " ")))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a code and the operation/path it happened on.
func New(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

// Newf creates a coded error with a formatted operator message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// User marks err as user facing. An empty message keeps the message of err.
func User(err error, message string) *Error {
	return &Error{Code: CodeOf(err), Kind: UserFacing, Message: message, Err: err}
}

// Application marks err as internal.
func Application(err error) *Error {
	return &Error{Code: CodeInternal, Kind: Internal, Err: err}
}

// CodeOf returns the code of the outermost *Error in the chain of err.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// ExitCode maps the error ending a process to its exit status: 0 on success,
// 2 for internal errors and 1 for everything the operator can act on.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if (Classifier{}).Classify(err) == Internal {
		return 2
	}
	return 1
}
