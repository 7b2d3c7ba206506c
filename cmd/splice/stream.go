package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ligustah/splice/internal/config"
	"github.com/ligustah/splice/internal/pipeline"
	"github.com/ligustah/splice/internal/progress"
	"github.com/ligustah/splice/internal/store"
	"github.com/ligustah/splice/internal/transform"
)

// runStream transforms a stream of unknown length. Buffers are read in
// order, transformed in parallel and written back in stream order.
func runStream(args []string) int {
	fs := newCommandFlags("stream", flagsInput|flagsOutput|flagsPipeline|flagsStream|flagsRetry|flagsLog,
		`Usage: splice stream [options]

Transform stdin, a file or an http(s) URL and write the result to stdout or a
file. The input is read in -buffer-size pieces; pieces are transformed in
parallel and written in their original order. Use - for stdin or stdout.`)
	trimPadding := fs.String("trim-padding", "", "Drop trailing runs of this byte from the output")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := fs.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.BufferSize > int64(maxBufferSize) {
		fmt.Fprintf(os.Stderr, "Error: -buffer-size must be at most %s\n", progress.FormatBytes(maxBufferSize))
		return ExitInvalidArgs
	}
	if cfg.Input != "" && cfg.Input != "-" && sameFile(cfg.Input, cfg.Output) {
		fmt.Fprintln(os.Stderr, "Error: -output must not be the input file")
		return ExitInvalidArgs
	}

	var storeOpts []store.AppendOption
	if *trimPadding != "" {
		b, err := transform.ParseByte(*trimPadding)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: -trim-padding: %v\n", err)
			return ExitInvalidArgs
		}
		storeOpts = append(storeOpts, store.WithTrimPadding(b))
	}
	fn, err := cfg.Transform()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	logger, log, _, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	in, err := openStream(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error accessing input: %v\n", err)
		return sourceExitCode(err)
	}
	defer in.Close()

	out := io.WriteCloser(os.Stdout)
	if cfg.Output != "" && cfg.Output != "-" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
			return ExitStorageError
		}
		out = f
	}

	st := store.NewAppend(out, storeOpts...)

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Input:          inputName(cfg.Input),
			TotalSize:      -1,
			Workers:        cfg.Workers,
			UpdateInterval: 5 * time.Second,
		})
		reporter.Start()
	}

	_, err = pipeline.Stream(ctx, in, st, pipeline.Options{
		Workers:                cfg.Workers,
		MailboxSize:            cfg.MailboxSize,
		Transform:              fn,
		BufferSize:             int(cfg.BufferSize),
		Progress:               reporter,
		Logger:                 log,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})
	if reporter != nil {
		reporter.Stop()
	}
	if out != os.Stdout {
		if cerr := out.Close(); cerr != nil && err == nil {
			fmt.Fprintf(os.Stderr, "Error closing output: %v\n", cerr)
			return ExitStorageError
		}
	}
	if code := report(ctx, err); code != ExitSuccess {
		return code
	}

	if out != os.Stdout {
		fmt.Fprintf(os.Stderr, "[splice] Wrote %s to %s\n", progress.FormatBytes(st.Written()), cfg.Output)
	}
	return ExitSuccess
}

// maxBufferSize caps a single stream buffer.
const maxBufferSize = 1 << 30

// openStream opens cfg.Input for sequential reading.
func openStream(ctx context.Context, cfg config.Config, log *slog.Logger) (io.ReadCloser, error) {
	switch {
	case cfg.Input == "" || cfg.Input == "-":
		return io.NopCloser(os.Stdin), nil
	case isURL(cfg.Input):
		return newHTTPClient(cfg, log).Get(ctx, cfg.Input)
	default:
		return os.Open(cfg.Input)
	}
}

func inputName(input string) string {
	if input == "" || input == "-" {
		return "stdin"
	}
	return input
}
