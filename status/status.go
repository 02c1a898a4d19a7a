// Package status tags errors with the coarse failure kind used throughout the
// conversion pipeline. Callers that drive segment selection use the code to
// decide whether a node is merely unsupported (fall back to host execution)
// or the pipeline itself is broken.
//
// Codes stay visible through github.com/pkg/errors wrapping: use
// Code(err) rather than direct type assertions.
package status

import (
	"errors"
	"fmt"
)

// ErrorCode is the coarse kind of a conversion failure.
type ErrorCode int

const (
	// OK is the zero code; never attached to a non-nil error.
	OK ErrorCode = iota

	// InvalidArgument marks malformed or semantically incompatible input:
	// shape mismatches, wrong operand kinds, unsupported axes.
	InvalidArgument

	// Unimplemented marks a recognized but unsupported combination of valid
	// inputs, e.g. a reshape that may touch the batch dimension.
	Unimplemented

	// NotFound marks a reference to a name or port that does not exist.
	NotFound

	// AlreadyExists marks a duplicate output binding.
	AlreadyExists

	// FailedPrecondition marks input that violates a documented precondition,
	// e.g. a constant whose declared shape disagrees with its payload size.
	FailedPrecondition

	// OutOfRange marks an input rank beyond the accelerator's hard maximum.
	OutOfRange

	// Internal marks an invariant violation: the accelerator returned a nil
	// layer, or upstream data that should be well-formed is not.
	Internal
)

func (c ErrorCode) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArgument:
		return "InvalidArgument"
	case Unimplemented:
		return "Unimplemented"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case FailedPrecondition:
		return "FailedPrecondition"
	case OutOfRange:
		return "OutOfRange"
	case Internal:
		return "Internal"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

type codedError struct {
	code ErrorCode
	msg  string
}

func (e *codedError) Error() string { return e.msg }

// Errorf creates an error carrying the given code.
func Errorf(code ErrorCode, format string, args ...any) error {
	return &codedError{code: code, msg: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf is Errorf(InvalidArgument, ...).
func InvalidArgumentf(format string, args ...any) error {
	return Errorf(InvalidArgument, format, args...)
}

// Unimplementedf is Errorf(Unimplemented, ...).
func Unimplementedf(format string, args ...any) error {
	return Errorf(Unimplemented, format, args...)
}

// NotFoundf is Errorf(NotFound, ...).
func NotFoundf(format string, args ...any) error {
	return Errorf(NotFound, format, args...)
}

// AlreadyExistsf is Errorf(AlreadyExists, ...).
func AlreadyExistsf(format string, args ...any) error {
	return Errorf(AlreadyExists, format, args...)
}

// FailedPreconditionf is Errorf(FailedPrecondition, ...).
func FailedPreconditionf(format string, args ...any) error {
	return Errorf(FailedPrecondition, format, args...)
}

// OutOfRangef is Errorf(OutOfRange, ...).
func OutOfRangef(format string, args ...any) error {
	return Errorf(OutOfRange, format, args...)
}

// Internalf is Errorf(Internal, ...).
func Internalf(format string, args ...any) error {
	return Errorf(Internal, format, args...)
}

// Code extracts the code from err, unwrapping as needed. A nil error yields
// OK; a non-nil error without a code yields Internal, the conservative
// reading for failures that escaped classification.
func Code(err error) ErrorCode {
	if err == nil {
		return OK
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return Internal
}

// IsCode reports whether err carries exactly the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}
