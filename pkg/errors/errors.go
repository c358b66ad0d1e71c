// Package errors provides the coded error taxonomy of the execution engine.
// Every failure surfaced by resolution, metric evaluation and expectation
// evaluation carries a Code so callers can branch with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error kind for programmatic handling.
type Code string

const (
	// Configuration errors (1xx)
	CodeConfiguration          Code = "E101"
	CodeMissingParameter       Code = "E102"
	CodeInvalidRange           Code = "E103"
	CodeInvalidConditionParser Code = "E104"
	CodeReaderMethod           Code = "E105"

	// Domain errors (2xx)
	CodeDomainResolution  Code = "E201"
	CodeUnsupportedDomain Code = "E202"

	// Evaluation errors (3xx)
	CodeUnsupportedComparison Code = "E301"
	CodeUnsupportedValue      Code = "E302"
	CodeBundleResolution      Code = "E303"
	CodeTypeMismatch          Code = "E304"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeStorage         Code = "E402"

	// DuckDB errors (5xx)
	CodeDuckDBInit  Code = "E501"
	CodeDuckDBQuery Code = "E502"

	CodeUnknown Code = "E999"
)

var codeNames = map[Code]string{
	CodeConfiguration:          "ConfigurationError",
	CodeMissingParameter:       "MissingParameterError",
	CodeInvalidRange:           "InvalidRangeError",
	CodeInvalidConditionParser: "InvalidConditionParserError",
	CodeReaderMethod:           "ReaderMethodError",
	CodeDomainResolution:       "DomainResolutionError",
	CodeUnsupportedDomain:      "UnsupportedDomainError",
	CodeUnsupportedComparison:  "UnsupportedComparisonError",
	CodeUnsupportedValue:       "UnsupportedValueError",
	CodeBundleResolution:       "BundleResolutionError",
	CodeTypeMismatch:           "TypeMismatchError",
	CodeContextCanceled:        "ContextCanceledError",
	CodeStorage:                "StorageError",
	CodeDuckDBInit:             "EngineInitError",
	CodeDuckDBQuery:            "QueryError",
	CodeUnknown:                "UnknownError",
}

// Name returns the taxonomy name of the code.
func (c Code) Name() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return codeNames[CodeUnknown]
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrConfiguration          = &EngineError{Code: CodeConfiguration}
	ErrMissingParameter       = &EngineError{Code: CodeMissingParameter}
	ErrInvalidRange           = &EngineError{Code: CodeInvalidRange}
	ErrInvalidConditionParser = &EngineError{Code: CodeInvalidConditionParser}
	ErrReaderMethod           = &EngineError{Code: CodeReaderMethod}
	ErrDomainResolution       = &EngineError{Code: CodeDomainResolution}
	ErrUnsupportedDomain      = &EngineError{Code: CodeUnsupportedDomain}
	ErrUnsupportedComparison  = &EngineError{Code: CodeUnsupportedComparison}
	ErrUnsupportedValue       = &EngineError{Code: CodeUnsupportedValue}
	ErrBundleResolution       = &EngineError{Code: CodeBundleResolution}
	ErrTypeMismatch           = &EngineError{Code: CodeTypeMismatch}
	ErrQuery                  = &EngineError{Code: CodeDuckDBQuery}
)

// EngineError is the base error type for all engine errors.
type EngineError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new EngineError.
func New(code Code, message string) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new EngineError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code.
func Wrap(err error, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *EngineError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// Taxonomy constructors.

// Configuration reports an invalid option or option combination.
func Configuration(format string, args ...interface{}) *EngineError {
	return &EngineError{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...), StackTrace: captureStack(2)}
}

// MissingParameter reports a required argument that was not supplied.
func MissingParameter(name string) *EngineError {
	return New(CodeMissingParameter, "missing required parameter").WithContext("parameter", name)
}

// DomainResolution reports a batch or domain that cannot be found.
func DomainResolution(format string, args ...interface{}) *EngineError {
	return &EngineError{Code: CodeDomainResolution, Message: fmt.Sprintf(format, args...), StackTrace: captureStack(2)}
}

// UnsupportedDomain reports a domain key the engine does not handle.
func UnsupportedDomain(key string) *EngineError {
	return New(CodeUnsupportedDomain, "unsupported domain key").WithContext("key", key)
}

// InvalidConditionParser reports a row_condition without the native parser.
func InvalidConditionParser(parser string) *EngineError {
	return New(CodeInvalidConditionParser, "row_condition requires condition_parser \"duckdb\"").
		WithContext("condition_parser", parser)
}

// InvalidRange reports a lower bound greater than the upper bound.
func InvalidRange(min, max interface{}) *EngineError {
	return New(CodeInvalidRange, "min_value cannot be greater than max_value").
		WithContext("min_value", min).
		WithContext("max_value", max)
}

// BundleResolution reports an inconsistency in a bundled query.
func BundleResolution(format string, args ...interface{}) *EngineError {
	return &EngineError{Code: CodeBundleResolution, Message: fmt.Sprintf(format, args...), StackTrace: captureStack(2)}
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *EngineError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// MultiError collects the errors of independent evaluations.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Combined returns nil, the only error, or m itself.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
