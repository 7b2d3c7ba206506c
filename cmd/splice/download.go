package main

import (
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/splice/internal/progress"
	"github.com/ligustah/splice/internal/source"
	"github.com/ligustah/splice/internal/store"
	"github.com/ligustah/splice/internal/transform"
)

// runDownload reads a sharded object into a local file, one range per shard.
func runDownload(args []string) int {
	fs := newCommandFlags("download", flagsBucket|flagsOutput|flagsPipeline|flagsLog,
		`Usage: splice download [options]

Read a sharded object from object storage and write it to a local file.
Shards are fetched in parallel and verified against their checksums. Bytes
are copied unchanged unless -replace is given.`)
	replace := fs.Bool("replace", false, "Apply the -from/-to replacement while downloading")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := fs.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Bucket == "" || cfg.Object == "" || cfg.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket, -object, and -output are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	cfg.Input = cfg.Bucket + "/" + cfg.Object

	fn := transform.Identity
	if *replace {
		if fn, err = cfg.Transform(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}

	logger, log, _, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	src, err := source.OpenSharded(ctx, bkt, cfg.Object)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer src.Close()

	out, err := store.CreateFile(cfg.Output, src.Size())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
		return ExitGeneralError
	}
	defer out.Close()

	_, err = execute(ctx, cfg, log, src, out, fn, nil)
	if code := report(ctx, err); code != ExitSuccess {
		return code
	}

	fmt.Fprintf(os.Stderr, "[splice] Downloaded %s to %s\n", progress.FormatBytes(src.Size()), cfg.Output)
	return ExitSuccess
}
