// Package coordinator serializes writes from many goroutines into a single
// output store without locking the store.
//
// A [Coordinator] is the only code that ever touches its [Store]. Producers
// never call the store directly; they submit a [Chunk] through a [Handle],
// which places the chunk in a bounded FIFO mailbox and waits for an [Ack].
//
// # Usage
//
//	c := coordinator.New(store, coordinator.WithMailboxSize(100))
//	c.Barrier().Expect(len(rs))
//
//	errCh := make(chan error, 1)
//	go func() { errCh <- c.Run(ctx) }()
//
//	h := c.Handle()
//	ack, err := h.Submit(ctx, coordinator.Chunk{Index: i, Range: r, Data: buf})
//
//	err = c.Barrier().Wait(ctx) // every expected range acknowledged
//	c.Close()
//	err = <-errCh               // store flushed
//
// # Backpressure
//
// Submit blocks while the mailbox is full. This is the only backpressure in
// the system; memory use is bounded by the mailbox size plus the chunks held
// by suspended submitters.
//
// # Validation
//
// When the store has a known size, a chunk whose range ends past it is
// rejected with [ErrOutOfBounds] before any memory is touched. Rejections are
// scoped to the one request; the coordinator keeps serving the mailbox.
//
// # Completion
//
// The [Barrier] counts acknowledged ranges against the number expected. It is
// the authoritative completion signal: a producer goroutine returning does not
// mean its chunk has been merged.
package coordinator
