package sharded

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/splice/pkg/ranges"
)

// ShardReader provides random access to individual shards of a completed
// sharded file, so shards can be fetched in parallel.
type ShardReader struct {
	bucket     *blob.Bucket
	ownsBucket bool
	manifest   *Manifest
}

// ShardHandle is an open shard. Reads return decoded bytes.
type ShardHandle struct {
	Index    int
	Range    ranges.Range
	Checksum string
	io.ReadCloser
}

// OpenShards opens a sharded file for random access to individual shards.
// The caller must call Close when done.
func OpenShards(ctx context.Context, bucketURL, object string) (*ShardReader, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("sharded: open bucket: %w", err)
	}

	manifest, err := readManifest(ctx, bucket, object)
	if err != nil {
		bucket.Close()
		return nil, err
	}

	return &ShardReader{
		bucket:     bucket,
		ownsBucket: true,
		manifest:   manifest,
	}, nil
}

// OpenShardsFromBucket opens a sharded file from an existing bucket handle.
// Close leaves the bucket open.
func OpenShardsFromBucket(ctx context.Context, bucket *blob.Bucket, object string) (*ShardReader, error) {
	manifest, err := readManifest(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	return &ShardReader{bucket: bucket, manifest: manifest}, nil
}

// Manifest returns the manifest for the sharded file.
func (r *ShardReader) Manifest() *Manifest {
	return r.manifest
}

// Open opens the shard at position idx in the manifest.
// The caller must close the returned ShardHandle when done.
func (r *ShardReader) Open(ctx context.Context, idx int) (*ShardHandle, error) {
	if idx < 0 || idx >= len(r.manifest.Shards) {
		return nil, fmt.Errorf("sharded: shard index %d out of range [0, %d)", idx, len(r.manifest.Shards))
	}

	shard := r.manifest.Shards[idx]
	rc, err := openShard(ctx, r.bucket, r.manifest, shard)
	if err != nil {
		return nil, fmt.Errorf("sharded: open shard %d: %w", idx, err)
	}

	return &ShardHandle{
		Index:      idx,
		Range:      shard.Range(),
		Checksum:   shard.Checksum,
		ReadCloser: rc,
	}, nil
}

// ReadRange reads the decoded bytes of shard idx into a new buffer.
func (r *ShardReader) ReadRange(ctx context.Context, idx int) ([]byte, error) {
	h, err := r.Open(ctx, idx)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	buf := make([]byte, h.Range.Len())
	if _, err := io.ReadFull(h, buf); err != nil {
		return nil, fmt.Errorf("sharded: read shard %d: %w", idx, err)
	}
	if h.Checksum != "" && checksumOf(buf) != h.Checksum {
		return nil, fmt.Errorf("sharded: checksum mismatch for shard %d", idx)
	}
	return buf, nil
}

// Close releases the bucket if the ShardReader opened it.
func (r *ShardReader) Close() error {
	if r.ownsBucket {
		return r.bucket.Close()
	}
	return nil
}
