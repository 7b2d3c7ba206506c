// Package source provides the random-access inputs a pipeline reads ranges
// from.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ligustah/splice/pkg/ranges"
)

// ErrOutOfRange is returned when a read extends past the end of the source.
var ErrOutOfRange = errors.New("source: range outside input")

// Source is a random-access input of known size. ReadRange returns a buffer
// the caller owns and may modify. Implementations are safe for concurrent use.
type Source interface {
	Size() int64
	ReadRange(ctx context.Context, r ranges.Range) ([]byte, error)
	Close() error
}

// Partitioner is implemented by sources with natural range boundaries. A
// pipeline uses these ranges instead of splitting the source evenly.
type Partitioner interface {
	Ranges() []ranges.Range
}

func checkRange(r ranges.Range, size int64) error {
	if !r.Within(size) {
		return fmt.Errorf("%w: %s of %d bytes", ErrOutOfRange, r, size)
	}
	return nil
}

// Bytes is an in-memory source.
type Bytes []byte

// Size returns the buffer length.
func (b Bytes) Size() int64 {
	return int64(len(b))
}

// ReadRange returns a copy of the bytes in r.
func (b Bytes) ReadRange(ctx context.Context, r ranges.Range) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(r, b.Size()); err != nil {
		return nil, err
	}
	out := make([]byte, r.Len())
	copy(out, b[r.Start:r.End])
	return out, nil
}

// Close is a no-op.
func (b Bytes) Close() error {
	return nil
}
