package sharded

import (
	"context"
	"fmt"

	"gocloud.dev/blob"

	"github.com/ligustah/splice/pkg/ranges"
)

// ValidationResult contains the results of validating a sharded file.
type ValidationResult struct {
	Valid          bool     // true if all shards exist, sizes match and ranges cover the file
	TotalSize      int64    // total size from manifest
	ShardCount     int      // number of shards in manifest
	MissingShards  int      // number of shards that don't exist
	SizeMismatches int      // number of shards with wrong stored size
	CoverageError  string   // set when shard ranges leave gaps or overlap
	Errors         []string // detailed error messages
}

// Validate checks that a sharded file is complete and all shards exist with correct sizes.
// It reads shard metadata from the object store without downloading the actual data.
//
// Missing shards, size mismatches and coverage problems are reported in the
// ValidationResult with Valid=false, not as errors. An error is returned when
// the manifest cannot be read or the store cannot be queried.
func Validate(ctx context.Context, bucket *blob.Bucket, dest string) (*ValidationResult, error) {
	manifest, err := readManifest(ctx, bucket, dest)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:      true,
		TotalSize:  manifest.TotalSize,
		ShardCount: len(manifest.Shards),
		Errors:     make([]string, 0),
	}

	if err := ranges.Verify(manifest.TotalSize, manifest.Ranges()); err != nil {
		result.Valid = false
		result.CoverageError = err.Error()
		result.Errors = append(result.Errors, fmt.Sprintf("coverage: %v", err))
	}

	for i, shard := range manifest.Shards {
		path := manifest.PartsPrefix + shard.Object

		attrs, err := bucket.Attributes(ctx, path)
		if err != nil {
			if isNotExist(err) {
				result.Valid = false
				result.MissingShards++
				result.Errors = append(result.Errors,
					fmt.Sprintf("shard %d missing: %s", i, path))
				continue
			}
			return nil, fmt.Errorf("sharded: check shard %d: %w", i, err)
		}

		// Manifests written without a stored size predate compression.
		expected := shard.StoredSize
		if expected == 0 {
			expected = shard.Size
		}
		if attrs.Size != expected {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("shard %d size mismatch: expected %d, got %d",
					i, expected, attrs.Size))
		}
	}

	return result, nil
}
