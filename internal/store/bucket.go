package store

import (
	"context"
	"errors"

	"github.com/ligustah/splice/pkg/coordinator"
	"github.com/ligustah/splice/pkg/ranges"
	"github.com/ligustah/splice/pkg/sharded"
)

// Bucket stores each merged range as one shard of a sharded object.
type Bucket struct {
	file      *sharded.File
	completed bool
}

// NewBucket wraps a sharded file opened with sharded.Write.
func NewBucket(file *sharded.File) *Bucket {
	return &Bucket{file: file}
}

// Size returns the total object size.
func (b *Bucket) Size() int64 {
	return b.file.Size()
}

// Merge uploads c as shard c.Index.
func (b *Bucket) Merge(ctx context.Context, c coordinator.Chunk) error {
	return b.file.Put(ctx, c.Index, c.Range, c.Data)
}

// Filled reports whether range index was stored by an earlier session.
func (b *Bucket) Filled(index int, r ranges.Range) bool {
	return b.file.Filled(index, r)
}

// Flush writes the manifest once the shards cover the whole object.
// Otherwise it saves the resume state so a later run can fill the rest.
func (b *Bucket) Flush(ctx context.Context) error {
	err := b.file.Complete(ctx)
	if errors.Is(err, sharded.ErrIncomplete) {
		return b.file.SaveState(ctx)
	}
	if err != nil {
		return err
	}
	b.completed = true
	return nil
}

// Completed reports whether Flush wrote the manifest.
func (b *Bucket) Completed() bool {
	return b.completed
}
