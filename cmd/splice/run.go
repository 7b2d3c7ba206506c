package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ligustah/splice/internal/config"
	"github.com/ligustah/splice/internal/pipeline"
	"github.com/ligustah/splice/internal/progress"
	"github.com/ligustah/splice/internal/source"
	"github.com/ligustah/splice/internal/store"
	"github.com/ligustah/splice/internal/transform"
	"github.com/ligustah/splice/pkg/coordinator"
	"github.com/ligustah/splice/pkg/ranges"
)

// runRun splits a file or URL into ranges, replaces a byte in each range in
// parallel, and writes the result to an output file of the same size.
func runRun(args []string) int {
	fs := newCommandFlags("run", flagsInput|flagsOutput|flagsPipeline|flagsRetry|flagsLog,
		`Usage: splice run [options]

Transform a local file or an http(s) URL into an output file. The input is
split into one range per worker; ranges are read, transformed and written
in parallel into a memory-mapped output file.`)

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := fs.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Input == "" || cfg.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: -input and -output are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if sameFile(cfg.Input, cfg.Output) {
		fmt.Fprintln(os.Stderr, "Error: -output must not be the input file")
		return ExitInvalidArgs
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

	src, err := openSource(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error accessing input: %v\n", err)
		return sourceExitCode(err)
	}
	defer src.Close()

	out, err := store.CreateFile(cfg.Output, src.Size())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
		return ExitStorageError
	}
	defer out.Close()

	_, err = execute(ctx, cfg, log, src, out, fn, nil)
	if code := report(ctx, err); code != ExitSuccess {
		return code
	}

	fmt.Fprintf(os.Stderr, "[splice] Wrote %s to %s\n", progress.FormatBytes(src.Size()), cfg.Output)
	return ExitSuccess
}

// execute runs the pipeline from src into st with a progress reporter when
// enabled. rs overrides the split when non-nil.
func execute(ctx context.Context, cfg config.Config, log *slog.Logger, src source.Source, st coordinator.Store, fn transform.Func, rs []ranges.Range) (*pipeline.Result, error) {
	totalRanges := len(rs)
	if totalRanges == 0 {
		totalRanges = cfg.Workers
		if p, ok := src.(source.Partitioner); ok {
			totalRanges = len(p.Ranges())
		}
	}

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Input:          cfg.Input,
			TotalSize:      src.Size(),
			TotalRanges:    totalRanges,
			Workers:        cfg.Workers,
			UpdateInterval: 5 * time.Second,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	result, err := pipeline.Run(ctx, src, st, pipeline.Options{
		Workers:                cfg.Workers,
		Ranges:                 rs,
		MailboxSize:            cfg.MailboxSize,
		Transform:              fn,
		Progress:               reporter,
		Logger:                 log,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})
	if result != nil && result.Skipped > 0 {
		fmt.Fprintf(os.Stderr, "[splice] Skipped %d ranges stored by an earlier run\n", result.Skipped)
	}
	return result, err
}

// report prints a pipeline error and returns its exit code.
func report(ctx context.Context, err error) int {
	if err == nil {
		return ExitSuccess
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "[splice] Interrupted")
		return ExitGeneralError
	}

	var (
		partial *pipeline.PartialError
		breaker *pipeline.CircuitBreakerError
	)
	switch {
	case errors.As(err, &breaker):
		fmt.Fprintf(os.Stderr, "Error: %v\n", breaker)
		for _, f := range breaker.Failed {
			fmt.Fprintf(os.Stderr, "  - %v\n", f)
		}
	case errors.As(err, &partial):
		fmt.Fprintf(os.Stderr, "Error: %d of %d ranges failed\n", len(partial.Failed), partial.Total)
		for _, f := range partial.Failed {
			fmt.Fprintf(os.Stderr, "  - %v\n", f)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// sameFile reports whether both paths name the same existing file.
func sameFile(a, b string) bool {
	if isURL(a) || isURL(b) {
		return false
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
