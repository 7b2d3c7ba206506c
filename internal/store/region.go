package store

import (
	"context"

	"github.com/ligustah/splice/pkg/coordinator"
)

// Region is an in-memory output of fixed size.
type Region struct {
	buf []byte
}

// NewRegion allocates a zeroed region of size bytes.
func NewRegion(size int64) *Region {
	return &Region{buf: make([]byte, size)}
}

// Size returns the region length.
func (r *Region) Size() int64 {
	return int64(len(r.buf))
}

// Merge copies c.Data into the region at c.Range.
func (r *Region) Merge(_ context.Context, c coordinator.Chunk) error {
	copy(r.buf[c.Range.Start:c.Range.End], c.Data)
	return nil
}

// Flush is a no-op.
func (r *Region) Flush(context.Context) error {
	return nil
}

// Bytes returns the region contents. Only safe once the coordinator has
// stopped.
func (r *Region) Bytes() []byte {
	return r.buf
}
