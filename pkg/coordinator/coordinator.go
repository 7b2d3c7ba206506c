package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ligustah/splice/pkg/ranges"
)

// DefaultMailboxSize is the number of submissions that may wait in the
// mailbox before submitters block.
const DefaultMailboxSize = 100

// Unbounded is returned by Store.Size for append-only stores.
const Unbounded int64 = -1

// Chunk is a transformed byte buffer together with the range it covers.
// Ownership of Data passes to the coordinator on Submit.
type Chunk struct {
	Index int
	Range ranges.Range
	Data  []byte
}

// Ack confirms that a chunk has been merged into the store.
type Ack struct {
	// Index and Range identify the merged chunk.
	Index int
	Range ranges.Range

	// Seq is the 1-based position of this merge in processing order.
	Seq int

	// Merged is the total number of bytes merged so far, this chunk included.
	Merged int64
}

// Store is the output a Coordinator writes to.
//
// Implementations need not be safe for concurrent use. While Run is active the
// coordinator is the only caller.
type Store interface {
	// Size returns the exact output length, or Unbounded for append-only stores.
	Size() int64

	// Merge writes c.Data at c.Range. For bounded stores the coordinator has
	// already checked that the range fits.
	Merge(ctx context.Context, c Chunk) error

	// Flush makes merged data durable. Called once when Run exits.
	Flush(ctx context.Context) error
}

// Options configures a Coordinator.
type Options struct {
	// MailboxSize bounds the number of queued submissions.
	// Default: DefaultMailboxSize
	MailboxSize int

	// Logger receives rejected and abandoned submissions.
	// Default: discard
	Logger *slog.Logger
}

// Option is a functional option for New.
type Option func(*Options)

// WithMailboxSize sets the mailbox capacity.
func WithMailboxSize(n int) Option {
	return func(o *Options) {
		o.MailboxSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Stats counts what the coordinator has processed.
type Stats struct {
	Acked     int   // chunks merged and acknowledged
	Rejected  int   // chunks refused by validation or by the store
	Abandoned int   // submissions whose caller stopped listening
	Merged    int64 // bytes merged
}

type request struct {
	ctx   context.Context
	chunk Chunk
	reply chan reply
}

type reply struct {
	ack Ack
	err error
}

// Coordinator owns a Store and applies every merge to it from a single
// goroutine. Create one with New, start it with Run, and give producers the
// value returned by Handle.
type Coordinator struct {
	store   Store
	log     *slog.Logger
	barrier *Barrier

	mailbox   chan request
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	running   atomic.Bool

	// Owned by the Run goroutine.
	seq    int
	merged int64

	mu    sync.Mutex
	stats Stats
}

// New creates a coordinator for store. The caller must not use store again
// until Run has returned.
func New(store Store, options ...Option) *Coordinator {
	opts := Options{
		MailboxSize: DefaultMailboxSize,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultMailboxSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Coordinator{
		store:   store,
		log:     opts.Logger,
		barrier: newBarrier(),
		mailbox: make(chan request, opts.MailboxSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Handle returns a submission handle. Handles are plain values and may be
// copied freely between goroutines.
func (c *Coordinator) Handle() Handle {
	return Handle{
		mailbox: c.mailbox,
		closing: c.closing,
		done:    c.done,
	}
}

// Barrier returns the completion barrier for this coordinator.
func (c *Coordinator) Barrier() *Barrier {
	return c.barrier
}

// Close stops accepting new submissions. Requests already in the mailbox are
// still processed before Run returns. Safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
}

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Stats returns a snapshot of the processing counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run processes the mailbox in arrival order until Close is called, the
// barrier completes, or ctx is done. Queued requests are drained before
// returning in the first two cases. The store is flushed on exit and the
// flush error, if any, is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator: already running")
	}
	defer close(c.done)
	defer c.barrier.stop()

	c.log.Debug("coordinator started", "mailbox", cap(c.mailbox), "store_size", c.store.Size())

	for {
		select {
		case req := <-c.mailbox:
			c.handle(ctx, req)
		case <-c.closing:
			c.drain(ctx)
			return c.flush(ctx)
		case <-c.barrier.Done():
			c.drain(ctx)
			return c.flush(ctx)
		case <-ctx.Done():
			return errors.Join(ctx.Err(), c.flush(context.WithoutCancel(ctx)))
		}
	}
}

// drain handles whatever is already queued without waiting for more.
func (c *Coordinator) drain(ctx context.Context) {
	for {
		select {
		case req := <-c.mailbox:
			c.handle(ctx, req)
		default:
			return
		}
	}
}

func (c *Coordinator) flush(ctx context.Context) error {
	err := c.store.Flush(ctx)
	stats := c.Stats()
	c.log.Debug("coordinator stopped",
		"acked", stats.Acked,
		"rejected", stats.Rejected,
		"abandoned", stats.Abandoned,
		"merged_bytes", stats.Merged,
	)
	if err != nil {
		return errors.Join(errors.New("coordinator: flush store"), err)
	}
	return nil
}

// handle validates, merges and acknowledges a single request. It runs to
// completion before the next request is looked at.
func (c *Coordinator) handle(ctx context.Context, req request) {
	ch := req.chunk

	if err := req.ctx.Err(); err != nil {
		c.log.Warn("submission abandoned before merge",
			"index", ch.Index, "range", ch.Range.String(), "error", err)
		c.update(func(s *Stats) { s.Abandoned++ })
		return
	}

	if err := c.validate(ch); err != nil {
		c.reject(req, err)
		return
	}

	if !ch.Range.Empty() {
		if err := c.store.Merge(ctx, ch); err != nil {
			c.reject(req, err)
			return
		}
	}

	c.seq++
	c.merged += ch.Range.Len()
	ack := Ack{
		Index:  ch.Index,
		Range:  ch.Range,
		Seq:    c.seq,
		Merged: c.merged,
	}
	c.update(func(s *Stats) {
		s.Acked++
		s.Merged = c.merged
	})

	// reply is buffered; this never blocks even if nobody is listening.
	req.reply <- reply{ack: ack}
	if req.ctx.Err() != nil {
		c.log.Warn("acknowledgment abandoned", "index", ch.Index, "range", ch.Range.String())
		c.update(func(s *Stats) { s.Abandoned++ })
	}

	if !c.barrier.ack(ch.Index) {
		c.log.Debug("range acknowledged again", "index", ch.Index, "range", ch.Range.String())
	}
}

func (c *Coordinator) validate(ch Chunk) error {
	if !ch.Range.Valid() {
		return ErrInvalidRange
	}
	if int64(len(ch.Data)) != ch.Range.Len() {
		return ErrLengthMismatch
	}
	if size := c.store.Size(); size != Unbounded && ch.Range.End > size {
		return ErrOutOfBounds
	}
	return nil
}

func (c *Coordinator) reject(req request, err error) {
	rerr := &RejectError{Index: req.chunk.Index, Range: req.chunk.Range, Err: err}
	c.log.Error("chunk rejected", "index", req.chunk.Index, "range", req.chunk.Range.String(), "error", err)
	c.update(func(s *Stats) { s.Rejected++ })
	req.reply <- reply{err: rerr}
}

func (c *Coordinator) update(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
