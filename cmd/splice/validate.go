package main

import (
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/splice/pkg/sharded"
)

// runValidate checks that a sharded object is complete and all shards exist
// with correct sizes. Reports validation status without downloading data.
func runValidate(args []string) int {
	fs := newCommandFlags("validate", flagsBucket,
		`Usage: splice validate [options]

Verify that a sharded object is complete: every shard exists with the stored
size recorded in the manifest, and the shards cover the object without gaps.
Does not download shard data.`)

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := fs.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Bucket == "" || cfg.Object == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	result, err := sharded.Validate(ctx, bkt, cfg.Object)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Printf("File: %s\n", cfg.Object)
	fmt.Printf("Total size: %d bytes\n", result.TotalSize)
	fmt.Printf("Shards: %d\n", result.ShardCount)

	if result.Valid {
		fmt.Println("Status: VALID")
		return ExitSuccess
	}

	fmt.Println("Status: INVALID")
	fmt.Printf("Missing shards: %d\n", result.MissingShards)
	fmt.Printf("Size mismatches: %d\n", result.SizeMismatches)
	if result.CoverageError != "" {
		fmt.Printf("Coverage: %s\n", result.CoverageError)
	}

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return ExitValidationFailed
}
