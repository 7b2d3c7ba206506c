package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrIncomplete is returned by Barrier.Wait when the coordinator stopped
// before every expected range was acknowledged.
var ErrIncomplete = errors.New("coordinator: stopped before all ranges were acknowledged")

// Barrier tracks acknowledged ranges against the number expected. Each
// chunk index counts once no matter how often it is resubmitted.
type Barrier struct {
	mu       sync.Mutex
	expected int // -1 until Expect is called
	acked    int
	seen     map[int]struct{}

	complete     chan struct{}
	completeOnce sync.Once
	stopped      chan struct{}
	stopOnce     sync.Once
}

func newBarrier() *Barrier {
	return &Barrier{
		expected: -1,
		seen:     make(map[int]struct{}),
		complete: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Expect sets the number of ranges that must be acknowledged. Expect(0)
// completes the barrier immediately.
func (b *Barrier) Expect(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expected = n
	b.check()
}

// Done is closed once the expected number of ranges has been acknowledged.
func (b *Barrier) Done() <-chan struct{} {
	return b.complete
}

// Progress returns the acknowledged and expected counts. expected is -1 if
// Expect has not been called.
func (b *Barrier) Progress() (acked, expected int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked, b.expected
}

// Wait blocks until every expected range is acknowledged, the coordinator
// stops, or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.complete:
		return nil
	case <-b.stopped:
		select {
		case <-b.complete:
			return nil
		default:
		}
		acked, expected := b.Progress()
		return fmt.Errorf("%w: %d of %d", ErrIncomplete, acked, expected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ack records index and reports whether it was acknowledged for the first time.
func (b *Barrier) ack(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[index]; ok {
		return false
	}
	b.seen[index] = struct{}{}
	b.acked++
	b.check()
	return true
}

// check must be called with b.mu held.
func (b *Barrier) check() {
	if b.expected >= 0 && b.acked >= b.expected {
		b.completeOnce.Do(func() { close(b.complete) })
	}
}

func (b *Barrier) stop() {
	b.stopOnce.Do(func() { close(b.stopped) })
}
