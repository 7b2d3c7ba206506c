package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ligustah/splice/internal/logging"
	"github.com/ligustah/splice/internal/progress"
	"github.com/ligustah/splice/internal/source"
	"github.com/ligustah/splice/internal/transform"
	"github.com/ligustah/splice/pkg/coordinator"
	"github.com/ligustah/splice/pkg/ranges"
)

// Options configures a run.
type Options struct {
	// Workers is the number of ranges processed in parallel, and the number of
	// ranges the input is split into.
	// Default: runtime.NumCPU()
	Workers int

	// Ranges overrides splitting. They must cover the input exactly.
	Ranges []ranges.Range

	// MailboxSize bounds the coordinator's queue.
	// Default: coordinator.DefaultMailboxSize
	MailboxSize int

	// Transform is applied to every range.
	// Default: transform.Identity
	Transform transform.Func

	// BufferSize is the read size in stream mode.
	// Default: 1 MiB
	BufferSize int

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger receives run events.
	// Default: discard
	Logger *slog.Logger

	// MaxConsecutiveFailures trips the circuit breaker after this many
	// ranges fail in a row. 0 disables it.
	MaxConsecutiveFailures int
}

// DefaultBufferSize is the stream mode read size.
const DefaultBufferSize = 1 << 20

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = coordinator.DefaultMailboxSize
	}
	if o.Transform == nil {
		o.Transform = transform.Identity
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Logger == nil {
		o.Logger = logging.Nop().Logger
	}
}

// Filler is implemented by stores that can already hold some ranges from an
// interrupted run. Filled ranges are not processed again.
type Filler interface {
	Filled(index int, r ranges.Range) bool
}

// Result describes a finished run.
type Result struct {
	Ranges  []ranges.Range
	Skipped int // ranges already present in the store
	Failed  []*RangeError
	Stats   coordinator.Stats
	Elapsed time.Duration
}

// Run splits src into ranges, transforms them in parallel and merges them
// into st through a coordinator. It returns once every range has been
// acknowledged or has failed, and the store has been flushed.
//
// A *StageError means nothing was processed (setup) or the store could not be
// flushed. Per-range failures do not stop other ranges; they are reported in
// Result.Failed and as a *PartialError.
func Run(ctx context.Context, src source.Source, st coordinator.Store, opts Options) (*Result, error) {
	opts.setDefaults()
	start := time.Now()
	log := opts.Logger

	rs, err := plan(src, st, opts)
	if err != nil {
		return nil, &StageError{Stage: "setup", Err: err}
	}

	var todo []int
	filler, _ := st.(Filler)
	for i, r := range rs {
		if filler != nil && filler.Filled(i, r) {
			continue
		}
		todo = append(todo, i)
	}

	result := &Result{Ranges: rs, Skipped: len(rs) - len(todo)}
	log.Info("run started",
		"size", src.Size(),
		"ranges", len(rs),
		"skipped", result.Skipped,
		"workers", opts.Workers,
	)

	c := coordinator.New(st,
		coordinator.WithMailboxSize(opts.MailboxSize),
		coordinator.WithLogger(log),
	)
	c.Barrier().Expect(len(todo))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	w := newWorkers(ctx, c.Handle(), opts)
	for _, i := range todo {
		if !w.submit(i, rs[i], func(ctx context.Context) ([]byte, error) {
			return src.ReadRange(ctx, rs[i])
		}) {
			break
		}
	}
	w.wait()

	if len(w.failed) == 0 && !w.tripped && ctx.Err() == nil {
		if err := c.Barrier().Wait(ctx); err != nil {
			log.Warn("barrier incomplete", "error", err)
		}
	}
	c.Close()
	flushErr := <-runErr

	result.Failed = w.failed
	result.Stats = c.Stats()
	result.Elapsed = time.Since(start)
	log.Info("run finished",
		"merged_bytes", result.Stats.Merged,
		"acked", result.Stats.Acked,
		"failed", len(result.Failed),
		"elapsed", result.Elapsed.String(),
	)

	return result, w.finish(ctx, len(todo), flushErr)
}

// plan returns the ranges to process and checks the store can hold them.
func plan(src source.Source, st coordinator.Store, opts Options) ([]ranges.Range, error) {
	size := src.Size()
	if out := st.Size(); out != coordinator.Unbounded && out != size {
		return nil, fmt.Errorf("output size %d does not match input size %d", out, size)
	}

	var (
		rs  []ranges.Range
		err error
	)
	switch p, ok := src.(source.Partitioner); {
	case opts.Ranges != nil:
		rs = opts.Ranges
	case ok:
		rs = p.Ranges()
	default:
		rs, err = ranges.Split(size, opts.Workers)
		if err != nil {
			return nil, err
		}
	}

	if err := ranges.Verify(size, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// workers runs range tasks on a bounded errgroup and tracks failures for the
// circuit breaker.
type workers struct {
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
	h      coordinator.Handle
	opts   Options

	mu          sync.Mutex
	failed      []*RangeError
	consecutive int
	tripped     bool
}

func newWorkers(ctx context.Context, h coordinator.Handle, opts Options) *workers {
	wctx, cancel := context.WithCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)
	return &workers{ctx: wctx, cancel: cancel, g: g, h: h, opts: opts}
}

// submit schedules one range, blocking while all workers are busy. It
// returns false once no more work should be scheduled.
func (w *workers) submit(index int, r ranges.Range, read func(context.Context) ([]byte, error)) bool {
	if w.ctx.Err() != nil {
		return false
	}
	w.g.Go(func() error {
		if w.ctx.Err() != nil {
			return nil
		}
		if p := w.opts.Progress; p != nil {
			p.RangeStarted()
		}

		err := w.process(index, r, read)
		w.record(index, r, err)
		return nil
	})
	return true
}

// process reads, transforms and submits one range and waits for its ack. A
// panic in the source or the transform fails only this range.
func (w *workers) process(index int, r ranges.Range, read func(context.Context) ([]byte, error)) (err error) {
	stage := "read"
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%s panicked: %v", stage, v)
		}
	}()

	data, err := read(w.ctx)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	stage = "transform"
	if err := w.opts.Transform(data); err != nil {
		return fmt.Errorf("transform: %w", err)
	}

	stage = "submit"
	ack, err := w.h.Submit(w.ctx, coordinator.Chunk{Index: index, Range: r, Data: data})
	if err != nil {
		return err
	}
	w.opts.Logger.Debug("range merged", "index", index, "range", r.String(), "seq", ack.Seq)
	return nil
}

func (w *workers) record(index int, r ranges.Range, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err == nil {
		w.consecutive = 0
		if p := w.opts.Progress; p != nil {
			p.RangeMerged(r.Len())
		}
		return
	}

	if p := w.opts.Progress; p != nil {
		p.RangeFailed()
	}
	// Ranges cut short by the breaker or by the caller are not failures of
	// their own.
	if w.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}

	w.opts.Logger.Error("range failed", "index", index, "range", r.String(), "error", err)
	w.failed = append(w.failed, &RangeError{Index: index, Range: r, Err: err})
	w.consecutive++
	if limit := w.opts.MaxConsecutiveFailures; limit > 0 && w.consecutive >= limit && !w.tripped {
		w.tripped = true
		w.opts.Logger.Error("circuit breaker tripped", "consecutive_failures", w.consecutive)
		w.cancel()
	}
}

func (w *workers) wait() {
	w.g.Wait()
	w.cancel()
}

// finish turns the run outcome into the error returned to the caller.
func (w *workers) finish(ctx context.Context, total int, flushErr error) error {
	var err error
	switch {
	case w.tripped:
		err = &CircuitBreakerError{ConsecutiveFailures: w.consecutive, Failed: w.failed}
	case ctx.Err() != nil:
		err = ctx.Err()
	case len(w.failed) > 0:
		err = &PartialError{Failed: w.failed, Total: total}
	}

	// Run already reports ctx.Err() when the caller cancelled.
	if flushErr != nil && !errors.Is(flushErr, context.Canceled) && !errors.Is(flushErr, context.DeadlineExceeded) {
		err = errors.Join(err, &StageError{Stage: "flush", Err: flushErr})
	}
	return err
}
