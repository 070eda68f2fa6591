package errors

import (
	stderrors "errors"
	"fmt"
)

// Error represents a standardized error
type Error struct {
	message string
	cause   error
}

// New creates a new error
func New(message string) *Error {
	return &Error{message: message}
}

// Newf creates a new formatted error
func Newf(format string, args ...interface{}) *Error {
	return &Error{message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		message: message,
		cause:   err,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		message: fmt.Sprintf(format, args...),
		cause:   err,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is checks if the error matches target
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.message == t.message
}

// Kind classifies pipeline failures.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindIO                  Kind = "io"
	KindBackendTransient    Kind = "backend_transient"
	KindBackendBusy         Kind = "backend_busy"
	KindBackendMalformed    Kind = "backend_malformed"
	KindInternalConsistency Kind = "internal_consistency"
	KindDuplicateSuppressed Kind = "duplicate_suppressed"
	KindNotFound            Kind = "not_found"
	KindCancelled           Kind = "cancelled"
)

// Sentinels usable with errors.Is against any PipelineError of the same kind.
var (
	ErrUnsupportedFormat   = &PipelineError{Kind: KindUnsupportedFormat}
	ErrIO                  = &PipelineError{Kind: KindIO}
	ErrBackendTransient    = &PipelineError{Kind: KindBackendTransient}
	ErrBackendBusy         = &PipelineError{Kind: KindBackendBusy}
	ErrBackendMalformed    = &PipelineError{Kind: KindBackendMalformed}
	ErrInternalConsistency = &PipelineError{Kind: KindInternalConsistency}
	ErrDuplicateSuppressed = &PipelineError{Kind: KindDuplicateSuppressed}
	ErrNotFound            = &PipelineError{Kind: KindNotFound}
	ErrCancelled           = &PipelineError{Kind: KindCancelled}
)

// PipelineError is the error type raised by every pipeline stage.
type PipelineError struct {
	Kind Kind
	// Op names the operation that failed, e.g. "segmenter.probe".
	Op string
	// Segment is the segment index, or -1 when the error is job-level.
	Segment int
	Err     error
}

// E builds a job-level PipelineError.
func E(kind Kind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Segment: -1, Err: err}
}

// SegmentE builds a PipelineError bound to one segment.
func SegmentE(kind Kind, op string, index int, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Segment: index, Err: err}
}

func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Segment >= 0 && e.Op != "" {
		msg = fmt.Sprintf("%s (segment %d)", msg, e.Segment)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches any PipelineError with the same kind.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first PipelineError in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsJobFatal reports whether an error of this kind aborts the whole job.
func IsJobFatal(kind Kind) bool {
	switch kind {
	case KindUnsupportedFormat, KindIO, KindInternalConsistency:
		return true
	default:
		return false
	}
}

// NotFound returns an error for items that were not found
func NotFound(itemType string, identifier string) error {
	return E(KindNotFound, itemType, Newf("%s not found: %s", itemType, identifier))
}

// InvalidField returns an error for invalid field values
func InvalidField(field string, reason string) error {
	return Newf("%s is invalid: %s", field, reason)
}

// OutOfRange returns an error for values outside acceptable range
func OutOfRange(field string, min, max interface{}) error {
	return Newf("%s out of range (must be between %v and %v)", field, min, max)
}
