// Package qrerr defines the failure taxonomy of a single decode attempt.
//
// Every kind except ErrInvalidInput is an expected outcome when scanning a
// live camera feed: callers treat it as "no result for this frame".
package qrerr

import (
	"errors"
	"fmt"
)

var (
	// ErrGeometryInvalid reports that no finder triple forms a valid corner,
	// the estimated version is outside [1, 40], or sampling left the image.
	ErrGeometryInvalid = errors.New("geometry invalid")

	// ErrFormatUnrecoverable reports that both format (or version) copies
	// failed BCH correction, or the decoded version disagrees with geometry.
	ErrFormatUnrecoverable = errors.New("format unrecoverable")

	// ErrGridMismatch reports a module grid whose data bit count differs from
	// the total codeword capacity of its version.
	ErrGridMismatch = errors.New("grid mismatch")

	// ErrUncorrectableBlock reports a Reed-Solomon block with more errors than
	// its correction capacity.
	ErrUncorrectableBlock = errors.New("uncorrectable block")

	// ErrMalformedDataStream reports a bad mode indicator, a truncated length
	// field or bit exhaustion inside a segment.
	ErrMalformedDataStream = errors.New("malformed data stream")

	// ErrInvalidInput reports a programming error such as a nil or short
	// pixel buffer.
	ErrInvalidInput = errors.New("invalid input")
)

// Error ties a failure kind to the pipeline stage that produced it.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an *Error of the given kind with a formatted cause.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind and op to an existing error. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Kind labels used for metrics and logs.
const (
	KindGeometry = "geometry"
	KindFormat   = "format"
	KindGrid     = "grid"
	KindRS       = "rs"
	KindData     = "data"
	KindInput    = "input"
	KindUnknown  = "unknown"
)

// KindOf returns a stable label for err's failure kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGeometryInvalid):
		return KindGeometry
	case errors.Is(err, ErrFormatUnrecoverable):
		return KindFormat
	case errors.Is(err, ErrGridMismatch):
		return KindGrid
	case errors.Is(err, ErrUncorrectableBlock):
		return KindRS
	case errors.Is(err, ErrMalformedDataStream):
		return KindData
	case errors.Is(err, ErrInvalidInput):
		return KindInput
	default:
		return KindUnknown
	}
}

// IsExpected reports whether err is one of the ordinary decode failures
// that should simply yield no result.
func IsExpected(err error) bool {
	switch KindOf(err) {
	case KindGeometry, KindFormat, KindGrid, KindRS, KindData:
		return true
	}
	return false
}
