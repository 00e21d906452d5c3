package operations

import (
	"errors"
	"fmt"
)

// Errors reported by the engine. Every one of them is fatal to the call
// that produced it; callers resynchronize instead of retrying.
var (
	// ErrLengthMismatch means an operation's retain+delete extent does not
	// match the length of the document (or operation) it is walked against.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrUnbalancedTags means inline tags remain open at the end of apply.
	ErrUnbalancedTags = errors.New("unbalanced tags")
	// ErrNestedStartTag means a tag was opened while already open.
	ErrNestedStartTag = errors.New("nested start tag")
	// ErrMissingStartTag means a tag was closed without being open.
	ErrMissingStartTag = errors.New("missing start tag")
	// ErrUnknownOperationShape means an atom matches no content kind.
	ErrUnknownOperationShape = errors.New("unknown operation shape")
)

// OpError carries the offset (and tag name, for tag errors) at which an
// operation was rejected. It unwraps to one of the sentinel errors above.
type OpError struct {
	Err    error
	Offset int
	Tag    string
}

func (e *OpError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("%v: tag %q at offset %d", e.Err, e.Tag, e.Offset)
	}
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// lengthMismatch reports an operation whose extent is want where got was found.
func lengthMismatch(got, want int) error {
	return &OpError{Err: fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, got, want), Offset: got}
}
