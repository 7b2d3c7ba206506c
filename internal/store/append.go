package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ligustah/splice/pkg/coordinator"
	"github.com/ligustah/splice/pkg/ranges"
)

var (
	// ErrOverlap is returned when a chunk covers bytes that were already
	// merged or are already pending.
	ErrOverlap = errors.New("store: chunk overlaps merged data")

	// ErrGap is returned by Flush when pending chunks are waiting on bytes
	// that never arrived.
	ErrGap = errors.New("store: gap in appended stream")
)

// AppendOption configures an Append store.
type AppendOption func(*Append)

// WithTrimPadding drops trailing runs of b at the end of the stream.
// Use it for inputs that were padded to a block size with a fill byte.
func WithTrimPadding(b byte) AppendOption {
	return func(a *Append) {
		a.trim = true
		a.fill = b
	}
}

// WithBufferSize sets the size of the write buffer in front of the writer.
func WithBufferSize(n int) AppendOption {
	return func(a *Append) {
		a.bufSize = n
	}
}

// Append is an unbounded sequential sink. Chunks may be merged in any order;
// each is written once every byte before it has been written, so the output
// is in stream order.
type Append struct {
	w       *bufio.Writer
	bufSize int

	next    int64
	pending map[int64]coordinator.Chunk
	written int64

	trim bool
	fill byte
	held int64 // trailing fill bytes not yet written
}

// NewAppend returns an Append store writing to w.
func NewAppend(w io.Writer, opts ...AppendOption) *Append {
	a := &Append{
		bufSize: 64 * 1024,
		pending: make(map[int64]coordinator.Chunk),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.w = bufio.NewWriterSize(w, a.bufSize)
	return a
}

// Size reports the store as unbounded.
func (a *Append) Size() int64 {
	return coordinator.Unbounded
}

// Merge writes c if it continues the stream, otherwise holds it until the
// bytes before it arrive.
func (a *Append) Merge(_ context.Context, c coordinator.Chunk) error {
	if c.Range.Start < a.next {
		return fmt.Errorf("%w: %s starts before offset %d", ErrOverlap, c.Range, a.next)
	}
	if _, ok := a.pending[c.Range.Start]; ok {
		return fmt.Errorf("%w: %s already pending", ErrOverlap, c.Range)
	}

	a.pending[c.Range.Start] = c
	for {
		p, ok := a.pending[a.next]
		if !ok {
			return nil
		}
		delete(a.pending, a.next)
		if err := a.write(p.Data); err != nil {
			return err
		}
		a.next = p.Range.End
	}
}

func (a *Append) write(data []byte) error {
	if !a.trim {
		n, err := a.w.Write(data)
		a.written += int64(n)
		return err
	}

	end := len(data)
	for end > 0 && data[end-1] == a.fill {
		end--
	}
	if end == 0 {
		a.held += int64(len(data))
		return nil
	}
	for ; a.held > 0; a.held-- {
		if err := a.w.WriteByte(a.fill); err != nil {
			return err
		}
		a.written++
	}
	n, err := a.w.Write(data[:end])
	a.written += int64(n)
	a.held = int64(len(data) - end)
	return err
}

// Flush writes buffered output. It fails with ErrGap if chunks are still
// waiting for earlier bytes; the contiguous prefix is flushed either way.
func (a *Append) Flush(context.Context) error {
	err := a.w.Flush()
	if len(a.pending) > 0 {
		missing := ranges.Range{Start: a.next, End: a.firstPending()}
		err = errors.Join(err, fmt.Errorf("%w: %s never merged, %d chunks dropped", ErrGap, missing, len(a.pending)))
	}
	return err
}

func (a *Append) firstPending() int64 {
	first := int64(-1)
	for start := range a.pending {
		if first < 0 || start < first {
			first = start
		}
	}
	return first
}

// Written returns the number of bytes written to the underlying writer's
// buffer so far.
func (a *Append) Written() int64 {
	return a.written
}
