package sharded

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"gocloud.dev/blob"
)

// Reader streams a completed sharded file in offset order.
type Reader struct {
	ctx        context.Context
	bucket     *blob.Bucket
	ownsBucket bool
	manifest   *Manifest
	opts       Options

	next    int
	current io.ReadCloser
	sum     hash.Hash
	closed  bool
}

// Read opens a sharded file for reading from the bucket at bucketURL.
// Closing the Reader closes the bucket.
func Read(ctx context.Context, bucketURL string, dest string, options ...Option) (*Reader, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("sharded: open bucket: %w", err)
	}

	r, err := ReadFromBucket(ctx, bucket, dest, options...)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	r.ownsBucket = true
	return r, nil
}

// ReadFromBucket opens a sharded file from an existing bucket handle. The
// bucket stays open after the Reader is closed.
func ReadFromBucket(ctx context.Context, bucket *blob.Bucket, dest string, options ...Option) (*Reader, error) {
	opts := Options{}
	for _, opt := range options {
		opt(&opts)
	}

	manifest, err := readManifest(ctx, bucket, dest)
	if err != nil {
		return nil, err
	}

	return &Reader{
		ctx:      ctx,
		bucket:   bucket,
		manifest: manifest,
		opts:     opts,
	}, nil
}

// Read reads decoded file bytes, moving through shards in order.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}

	for {
		if r.current != nil {
			n, err := r.current.Read(p)
			if r.sum != nil && n > 0 {
				r.sum.Write(p[:n])
			}
			if err != io.EOF {
				return n, err
			}

			if err := r.finishShard(); err != nil {
				return n, err
			}
			if n > 0 {
				return n, nil
			}
			continue
		}

		if r.next >= len(r.manifest.Shards) {
			return 0, io.EOF
		}

		shard := r.manifest.Shards[r.next]
		rc, err := openShard(r.ctx, r.bucket, r.manifest, shard)
		if err != nil {
			return 0, fmt.Errorf("sharded: open shard %d: %w", r.next, err)
		}
		r.current = rc
		r.next++

		if r.opts.VerifyChecksum && shard.Checksum != "" {
			r.sum = sha256.New()
		}
	}
}

// finishShard closes the current shard and checks its checksum.
func (r *Reader) finishShard() error {
	r.current.Close()
	r.current = nil

	if r.sum == nil {
		return nil
	}
	shard := r.manifest.Shards[r.next-1]
	actual := hex.EncodeToString(r.sum.Sum(nil))
	r.sum = nil
	if actual != shard.Checksum {
		return fmt.Errorf("sharded: checksum mismatch for shard %d: expected %s, got %s",
			r.next-1, shard.Checksum, actual)
	}
	return nil
}

// Close closes the reader and releases resources.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.current != nil {
		r.current.Close()
		r.current = nil
	}

	if r.ownsBucket {
		return r.bucket.Close()
	}
	return nil
}

// Manifest returns the manifest for the sharded file.
func (r *Reader) Manifest() *Manifest {
	return r.manifest
}
