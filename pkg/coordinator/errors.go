package coordinator

import (
	"errors"
	"fmt"

	"github.com/ligustah/splice/pkg/ranges"
)

var (
	// ErrClosed is returned by Handle.Submit once the coordinator has stopped
	// accepting or processing requests.
	ErrClosed = errors.New("coordinator: closed")

	// ErrOutOfBounds is returned when a chunk's range ends past the store.
	ErrOutOfBounds = errors.New("coordinator: range out of bounds")

	// ErrLengthMismatch is returned when a chunk's data length differs from
	// the length of its range.
	ErrLengthMismatch = errors.New("coordinator: data length does not match range")

	// ErrInvalidRange is returned for a range with a negative start or with
	// end before start.
	ErrInvalidRange = errors.New("coordinator: invalid range")
)

// RejectError describes a chunk the coordinator refused or failed to merge.
// The store is left untouched for rejected chunks.
type RejectError struct {
	Index int
	Range ranges.Range
	Err   error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("chunk %d %s: %v", e.Index, e.Range, e.Err)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}
