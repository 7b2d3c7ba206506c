package source

import (
	"context"
	"fmt"
	"sort"

	"gocloud.dev/blob"

	"github.com/ligustah/splice/pkg/ranges"
	"github.com/ligustah/splice/pkg/sharded"
)

// Sharded reads a completed sharded object. Its ranges are the shard
// boundaries, so each range is fetched with a single object read.
type Sharded struct {
	reader *sharded.ShardReader
	byOff  map[int64]int
	ranges []ranges.Range
}

// OpenSharded opens the sharded object named object in bucket.
func OpenSharded(ctx context.Context, bucket *blob.Bucket, object string) (*Sharded, error) {
	sr, err := sharded.OpenShardsFromBucket(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	m := sr.Manifest()
	if err := ranges.Verify(m.TotalSize, m.Ranges()); err != nil {
		sr.Close()
		return nil, fmt.Errorf("source: sharded object %s: %w", object, err)
	}

	s := &Sharded{
		reader: sr,
		byOff:  make(map[int64]int, len(m.Shards)),
		ranges: m.Ranges(),
	}
	for i, shard := range m.Shards {
		s.byOff[shard.Offset] = i
	}
	return s, nil
}

// Size returns the object size.
func (s *Sharded) Size() int64 {
	return s.reader.Manifest().TotalSize
}

// Ranges returns the shard boundaries.
func (s *Sharded) Ranges() []ranges.Range {
	return append([]ranges.Range(nil), s.ranges...)
}

// Metadata returns the metadata stored in the object's manifest.
func (s *Sharded) Metadata() map[string]string {
	return s.reader.Manifest().Metadata
}

// ReadRange reads r. A range matching a shard is one object read; any other
// range is assembled from the shards it touches.
func (s *Sharded) ReadRange(ctx context.Context, r ranges.Range) ([]byte, error) {
	if err := checkRange(r, s.Size()); err != nil {
		return nil, err
	}
	if r.Empty() {
		return []byte{}, nil
	}

	if i, ok := s.byOff[r.Start]; ok && s.ranges[i] == r {
		return s.reader.ReadRange(ctx, i)
	}

	out := make([]byte, 0, r.Len())
	// first shard ending after r.Start
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > r.Start })
	for ; i < len(s.ranges) && s.ranges[i].Start < r.End; i++ {
		data, err := s.reader.ReadRange(ctx, i)
		if err != nil {
			return nil, err
		}
		sr := s.ranges[i]
		lo := max(r.Start, sr.Start) - sr.Start
		hi := min(r.End, sr.End) - sr.Start
		out = append(out, data[lo:hi]...)
	}
	return out, nil
}

// Close releases the reader. The bucket stays open.
func (s *Sharded) Close() error {
	return s.reader.Close()
}
