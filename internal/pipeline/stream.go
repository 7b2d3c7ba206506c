package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ligustah/splice/pkg/coordinator"
	"github.com/ligustah/splice/pkg/ranges"
)

// Stream reads r in BufferSize pieces and transforms them in parallel. Each
// piece is tagged with the range of bytes actually read, so a short final read
// yields a short final range. The number of ranges is known only at EOF.
//
// st is usually an Append store, which writes pieces in stream order
// regardless of the order they are merged in. At most Workers pieces are held
// in memory besides those queued in the mailbox.
func Stream(ctx context.Context, r io.Reader, st coordinator.Store, opts Options) (*Result, error) {
	opts.setDefaults()
	start := time.Now()
	log := opts.Logger

	log.Info("stream started", "buffer_size", opts.BufferSize, "workers", opts.Workers)

	c := coordinator.New(st,
		coordinator.WithMailboxSize(opts.MailboxSize),
		coordinator.WithLogger(log),
	)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	w := newWorkers(ctx, c.Handle(), opts)
	result := &Result{}

	var (
		offset  int64
		readErr error
	)
	for index := 0; ; index++ {
		if w.ctx.Err() != nil {
			break
		}

		buf := make([]byte, opts.BufferSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			rng := ranges.Range{Start: offset, End: offset + int64(n)}
			offset = rng.End
			result.Ranges = append(result.Ranges, rng)

			data := buf[:n]
			if !w.submit(index, rng, func(context.Context) ([]byte, error) { return data, nil }) {
				break
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}

	c.Barrier().Expect(len(result.Ranges))
	w.wait()

	if readErr == nil && len(w.failed) == 0 && !w.tripped && ctx.Err() == nil {
		if err := c.Barrier().Wait(ctx); err != nil {
			log.Warn("barrier incomplete", "error", err)
		}
	}
	c.Close()
	flushErr := <-runErr

	result.Failed = w.failed
	result.Stats = c.Stats()
	result.Elapsed = time.Since(start)
	log.Info("stream finished",
		"read_bytes", offset,
		"merged_bytes", result.Stats.Merged,
		"ranges", len(result.Ranges),
		"failed", len(result.Failed),
		"elapsed", result.Elapsed.String(),
	)

	err := w.finish(ctx, len(result.Ranges), flushErr)
	if readErr != nil {
		err = errors.Join(&StageError{Stage: "read", Err: readErr}, err)
	}
	return result, err
}
