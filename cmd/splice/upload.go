package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/splice/internal/config"
	"github.com/ligustah/splice/internal/progress"
	"github.com/ligustah/splice/internal/source"
	"github.com/ligustah/splice/internal/store"
	"github.com/ligustah/splice/pkg/ranges"
	"github.com/ligustah/splice/pkg/sharded"
)

// Metadata keys stored with every uploaded object.
const (
	metaSource = "source"
	metaETag   = "source_etag"
	metaRunID  = "run_id"
	metaFrom   = "from"
	metaTo     = "to"
)

// runUpload transforms a file or URL and stores the result as a sharded
// object, one shard per range. Interrupted uploads resume from saved state.
func runUpload(args []string) int {
	fs := newCommandFlags("upload", flagsInput|flagsBucket|flagsPipeline|flagsUpload|flagsRetry|flagsLog,
		`Usage: splice upload [options]

Transform a local file or an http(s) URL and store it as a sharded object in
object storage. Each range becomes one shard; the manifest is written once
every shard is stored. Re-running an interrupted upload skips stored shards.`)
	shardSize := fs.String("shard-size", "", "Fixed shard size, e.g. 256MiB (default: one shard per worker)")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := fs.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Input == "" || cfg.Bucket == "" || cfg.Object == "" {
		fmt.Fprintln(os.Stderr, "Error: -input, -bucket, and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	var shardBytes int64
	if *shardSize != "" {
		if shardBytes, err = progress.ParseBytes(*shardSize); err != nil || shardBytes <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid shard size: %q\n", *shardSize)
			return ExitInvalidArgs
		}
	}
	compression, err := sharded.ParseCompression(cfg.Compression)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	fn, err := cfg.Transform()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	logger, log, runID, err := newLogger(cfg)
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

	src, err := openSource(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error accessing input: %v\n", err)
		return sourceExitCode(err)
	}
	defer src.Close()

	metadata := map[string]string{
		metaSource: cfg.Input,
		metaRunID:  runID,
		metaFrom:   cfg.From,
		metaTo:     cfg.To,
	}
	if u, ok := src.(*source.URL); ok && u.Info().ETag != "" {
		metadata[metaETag] = u.Info().ETag
	}

	file, code := openUpload(ctx, bkt, cfg, src.Size(), metadata,
		sharded.WithCompression(compression),
		sharded.WithStateInterval(cfg.StateInterval),
	)
	if code != ExitSuccess {
		return code
	}

	var rs []ranges.Range
	if shardBytes > 0 {
		if rs, err = ranges.Fixed(src.Size(), shardBytes); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}

	st := store.NewBucket(file)
	_, err = execute(ctx, cfg, log, src, st, fn, rs)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[splice] Upload interrupted, state saved for resume")
			return ExitGeneralError
		}
		code := report(ctx, err)
		if code == ExitPartialFailure {
			fmt.Fprintln(os.Stderr, "[splice] Run again to resume")
		}
		return code
	}
	if !st.Completed() {
		fmt.Fprintln(os.Stderr, "[splice] Upload incomplete, state saved for resume")
		return ExitPartialFailure
	}

	fmt.Fprintf(os.Stderr, "[splice] Upload complete: %s/%s\n", cfg.Bucket, cfg.Object)
	fmt.Fprintf(os.Stderr, "[splice] Manifest: %s/%s.manifest.json\n", cfg.Bucket, cfg.Object)
	return ExitSuccess
}

// openUpload opens the sharded destination, resuming earlier state when it
// belongs to the same input and transform. With -force any earlier state is
// discarded instead.
func openUpload(ctx context.Context, bkt *blob.Bucket, cfg config.Config, size int64, metadata map[string]string, opts ...sharded.Option) (*sharded.File, int) {
	opts = append(opts, sharded.WithSize(size), sharded.WithMetadata(metadata))

	file, err := sharded.Write(ctx, bkt, cfg.Object, opts...)
	if errors.Is(err, sharded.ErrSizeChanged) && cfg.Force {
		if err = sharded.DeletePartial(ctx, bkt, cfg.Object); err == nil {
			file, err = sharded.Write(ctx, bkt, cfg.Object, opts...)
		}
	}
	if errors.Is(err, sharded.ErrSizeChanged) {
		fmt.Fprintln(os.Stderr, "Error: Source file has changed since last upload attempt")
		fmt.Fprintln(os.Stderr, "Use -force to restart from scratch")
		return nil, ExitSourceChanged
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening destination: %v\n", err)
		return nil, ExitStorageError
	}

	if file.CompletedCount() == 0 {
		return file, ExitSuccess
	}

	if !cfg.Force {
		switch changed := staleKey(file.Metadata(), metadata); changed {
		case "":
			fmt.Fprintf(os.Stderr, "[splice] Resuming: %d shards (%s) already stored\n",
				file.CompletedCount(), progress.FormatBytes(file.CompletedBytes()))
			return file, ExitSuccess
		case metaSource, metaETag:
			fmt.Fprintln(os.Stderr, "Error: Source file has changed since last upload attempt")
			fmt.Fprintln(os.Stderr, "Use -force to restart from scratch")
			return nil, ExitSourceChanged
		default:
			fmt.Fprintf(os.Stderr, "Error: Earlier upload used a different %s setting\n", changed)
			fmt.Fprintln(os.Stderr, "Use -force to restart from scratch")
			return nil, ExitInvalidArgs
		}
	}

	if err := file.Reset(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error discarding earlier upload: %v\n", err)
		return nil, ExitStorageError
	}
	return file, ExitSuccess
}

// staleKey returns the first metadata key whose stored value differs from
// the current one. The run ID is expected to differ.
func staleKey(stored, current map[string]string) string {
	for _, key := range []string{metaSource, metaETag, metaFrom, metaTo} {
		if stored[key] != current[key] {
			return key
		}
	}
	return ""
}
