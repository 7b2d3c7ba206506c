package coordinator

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/splice/pkg/ranges"
)

// memStore is a fixed-size in-memory store that records merge calls.
type memStore struct {
	buf      []byte
	merges   int
	flushes  int
	flushErr error
	mergeErr error

	// gate, when set, blocks each Merge until a value is received.
	gate    chan struct{}
	started chan int
}

func newMemStore(size int) *memStore {
	return &memStore{buf: make([]byte, size)}
}

func (s *memStore) Size() int64 { return int64(len(s.buf)) }

func (s *memStore) Merge(_ context.Context, c Chunk) error {
	if s.started != nil {
		s.started <- c.Index
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.mergeErr != nil {
		return s.mergeErr
	}
	s.merges++
	copy(s.buf[c.Range.Start:c.Range.End], c.Data)
	return nil
}

func (s *memStore) Flush(context.Context) error {
	s.flushes++
	return s.flushErr
}

// unboundedStore appends in processing order.
type unboundedStore struct {
	out bytes.Buffer
}

func (s *unboundedStore) Size() int64 { return Unbounded }

func (s *unboundedStore) Merge(_ context.Context, c Chunk) error {
	s.out.Write(c.Data)
	return nil
}

func (s *unboundedStore) Flush(context.Context) error { return nil }

func replace(p []byte) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		if b == ';' {
			b = ':'
		}
		out[i] = b
	}
	return out
}

func start(t *testing.T, c *Coordinator) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	return errCh
}

func stop(t *testing.T, c *Coordinator, errCh <-chan error) error {
	t.Helper()
	c.Close()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
		return nil
	}
}

func testInput(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		if i%5 == 0 {
			data[i] = ';'
		} else {
			data[i] = byte('a' + i%26)
		}
	}
	return data
}

func chunksFor(data []byte, n int) ([]Chunk, error) {
	rs, err := ranges.Split(int64(len(data)), n)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, len(rs))
	for i, r := range rs {
		out[i] = Chunk{Index: i, Range: r, Data: replace(data[r.Start:r.End])}
	}
	return out, nil
}

func TestSemicolonExample(t *testing.T) {
	input := []byte("a;b;c;d")
	store := newMemStore(len(input))
	c := New(store)
	errCh := start(t, c)
	c.Barrier().Expect(2)

	h := c.Handle()
	for i, r := range []ranges.Range{{Start: 0, End: 4}, {Start: 4, End: 7}} {
		_, err := h.Submit(context.Background(), Chunk{Index: i, Range: r, Data: replace(input[r.Start:r.End])})
		require.NoError(t, err)
	}

	require.NoError(t, c.Barrier().Wait(context.Background()))
	require.NoError(t, stop(t, c, errCh))

	assert.Equal(t, "a:b:c:d", string(store.buf))
	assert.NotContains(t, string(store.buf), ";")
	assert.Equal(t, 1, store.flushes)
}

func TestMergeOrderIndependent(t *testing.T) {
	input := testInput(4099)
	want := replace(input)

	orders := map[string]func([]Chunk){
		"forward": func([]Chunk) {},
		"reverse": func(cs []Chunk) {
			for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
				cs[i], cs[j] = cs[j], cs[i]
			}
		},
		"random": func(cs []Chunk) {
			r := rand.New(rand.NewPCG(1, 2))
			r.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
		},
	}

	for name, reorder := range orders {
		t.Run(name, func(t *testing.T) {
			chunks, err := chunksFor(input, 13)
			require.NoError(t, err)
			reorder(chunks)

			store := newMemStore(len(input))
			c := New(store)
			errCh := start(t, c)
			c.Barrier().Expect(len(chunks))

			h := c.Handle()
			seen := make(map[int]bool)
			for _, ch := range chunks {
				ack, err := h.Submit(context.Background(), ch)
				require.NoError(t, err)
				assert.Equal(t, ch.Index, ack.Index)
				assert.Equal(t, ch.Range, ack.Range)
				seen[ack.Index] = true
			}

			require.NoError(t, c.Barrier().Wait(context.Background()))
			require.NoError(t, stop(t, c, errCh))
			assert.Len(t, seen, len(chunks))
			assert.Equal(t, want, store.buf)
		})
	}
}

func TestConcurrentSubmitters(t *testing.T) {
	input := testInput(1 << 16)
	chunks, err := chunksFor(input, 64)
	require.NoError(t, err)

	store := newMemStore(len(input))
	c := New(store, WithMailboxSize(4))
	errCh := start(t, c)
	c.Barrier().Expect(len(chunks))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = make(map[int]bool)
	)
	for _, ch := range chunks {
		wg.Add(1)
		go func(h Handle, ch Chunk) {
			defer wg.Done()
			ack, err := h.Submit(context.Background(), ch)
			assert.NoError(t, err)
			mu.Lock()
			seqs[ack.Seq] = true
			mu.Unlock()
		}(c.Handle(), ch)
	}
	wg.Wait()

	require.NoError(t, c.Barrier().Wait(context.Background()))
	require.NoError(t, stop(t, c, errCh))

	assert.Equal(t, replace(input), store.buf)
	assert.Len(t, seqs, len(chunks), "every ack should carry a distinct sequence number")
	assert.Equal(t, int64(len(input)), c.Stats().Merged)
}

func TestOutOfBoundsRejected(t *testing.T) {
	store := newMemStore(8)
	copy(store.buf, "abcdefgh")
	c := New(store)
	errCh := start(t, c)
	h := c.Handle()

	_, err := h.Submit(context.Background(), Chunk{
		Index: 3,
		Range: ranges.Range{Start: 6, End: 10},
		Data:  []byte("WXYZ"),
	})
	require.ErrorIs(t, err, ErrOutOfBounds)

	var rerr *RejectError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 3, rerr.Index)
	assert.Equal(t, "abcdefgh", string(store.buf), "store must be untouched")

	// The coordinator keeps serving.
	ack, err := h.Submit(context.Background(), Chunk{Index: 0, Range: ranges.Range{Start: 0, End: 2}, Data: []byte("AB")})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Seq)

	require.NoError(t, stop(t, c, errCh))
	assert.Equal(t, "ABcdefgh", string(store.buf))
	assert.Equal(t, 1, c.Stats().Rejected)
	assert.Equal(t, 1, store.merges)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		chunk Chunk
		want  error
	}{
		{"length mismatch", Chunk{Range: ranges.Range{Start: 0, End: 4}, Data: []byte("ab")}, ErrLengthMismatch},
		{"negative start", Chunk{Range: ranges.Range{Start: -2, End: 0}, Data: []byte("ab")}, ErrInvalidRange},
		{"inverted", Chunk{Range: ranges.Range{Start: 4, End: 2}}, ErrInvalidRange},
		{"past end", Chunk{Range: ranges.Range{Start: 8, End: 9}, Data: []byte("x")}, ErrOutOfBounds},
	}

	store := newMemStore(8)
	c := New(store)
	errCh := start(t, c)
	h := c.Handle()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Submit(context.Background(), tt.chunk)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, stop(t, c, errCh))
	assert.Equal(t, 0, store.merges)
	assert.Equal(t, make([]byte, 8), store.buf)
}

func TestStoreErrorIsRequestScoped(t *testing.T) {
	boom := errors.New("disk on fire")
	store := newMemStore(4)
	store.mergeErr = boom
	c := New(store)
	errCh := start(t, c)

	_, err := c.Handle().Submit(context.Background(), Chunk{Range: ranges.Range{Start: 0, End: 2}, Data: []byte("ab")})
	require.ErrorIs(t, err, boom)

	store.mergeErr = nil
	_, err = c.Handle().Submit(context.Background(), Chunk{Range: ranges.Range{Start: 2, End: 4}, Data: []byte("cd")})
	require.NoError(t, err)

	require.NoError(t, stop(t, c, errCh))
}

func TestEmptyRangeIsNoOp(t *testing.T) {
	store := newMemStore(4)
	c := New(store)
	errCh := start(t, c)

	ack, err := c.Handle().Submit(context.Background(), Chunk{Index: 5, Range: ranges.Range{Start: 4, End: 4}})
	require.NoError(t, err)
	assert.Equal(t, 5, ack.Index)
	assert.Equal(t, int64(0), ack.Merged)

	require.NoError(t, stop(t, c, errCh))
	assert.Equal(t, 0, store.merges)
}

func TestUnboundedStoreSkipsBoundsCheck(t *testing.T) {
	store := &unboundedStore{}
	c := New(store)
	errCh := start(t, c)

	_, err := c.Handle().Submit(context.Background(), Chunk{Range: ranges.Range{Start: 1 << 40, End: 1<<40 + 3}, Data: []byte("abc")})
	require.NoError(t, err)
	require.NoError(t, stop(t, c, errCh))
	assert.Equal(t, "abc", store.out.String())
}

func TestBackpressure(t *testing.T) {
	const (
		mailbox    = 2
		submitters = 6
	)

	store := newMemStore(submitters)
	store.gate = make(chan struct{})
	store.started = make(chan int, submitters)
	c := New(store, WithMailboxSize(mailbox))
	errCh := start(t, c)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		returned int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Handle().Submit(context.Background(), Chunk{
				Index: i,
				Range: ranges.Range{Start: int64(i), End: int64(i + 1)},
				Data:  []byte{byte('A' + i)},
			})
			assert.NoError(t, err)
			mu.Lock()
			returned++
			mu.Unlock()
		}(i)
	}

	// One request is inside Merge, the mailbox is full, the rest are suspended.
	<-store.started
	require.Eventually(t, func() bool { return len(c.mailbox) == mailbox }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.mailbox, mailbox, "mailbox must not grow past its capacity")
	mu.Lock()
	assert.Equal(t, 0, returned)
	mu.Unlock()

	// Release merges one at a time; suspended submitters proceed in turn.
	go func() {
		for i := 0; i < submitters; i++ {
			store.gate <- struct{}{}
			if i < submitters-1 {
				<-store.started
			}
		}
	}()
	wg.Wait()

	require.NoError(t, stop(t, c, errCh))
	assert.Equal(t, "ABCDEF", string(store.buf))
	assert.Equal(t, submitters, c.Stats().Acked)
}

func TestAbandonedAcknowledgment(t *testing.T) {
	store := newMemStore(4)
	store.gate = make(chan struct{})
	store.started = make(chan int, 4)
	c := New(store)
	errCh := start(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := c.Handle().Submit(ctx, Chunk{Range: ranges.Range{Start: 0, End: 2}, Data: []byte("ab")})
		result <- err
	}()

	<-store.started
	cancel()
	require.ErrorIs(t, <-result, context.Canceled)
	store.gate <- struct{}{}

	// The coordinator survives and keeps serving.
	store.gate = nil
	store.started = nil
	_, err := c.Handle().Submit(context.Background(), Chunk{Range: ranges.Range{Start: 2, End: 4}, Data: []byte("cd")})
	require.NoError(t, err)

	require.NoError(t, stop(t, c, errCh))
	stats := c.Stats()
	assert.Equal(t, 1, stats.Abandoned)
	assert.Equal(t, 2, stats.Acked)
	assert.Equal(t, "abcd", string(store.buf))
}

func TestCanceledBeforeMergeIsSkipped(t *testing.T) {
	store := newMemStore(4)
	store.gate = make(chan struct{})
	store.started = make(chan int, 4)
	c := New(store)
	errCh := start(t, c)

	// Occupy the coordinator so the second request waits in the mailbox.
	go func() {
		_, _ = c.Handle().Submit(context.Background(), Chunk{Range: ranges.Range{Start: 0, End: 2}, Data: []byte("ab")})
	}()
	<-store.started

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := c.Handle().Submit(ctx, Chunk{Index: 1, Range: ranges.Range{Start: 2, End: 4}, Data: []byte("cd")})
		result <- err
	}()
	require.Eventually(t, func() bool { return len(c.mailbox) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-result, context.Canceled)

	store.gate <- struct{}{}
	require.NoError(t, stop(t, c, errCh))

	assert.Equal(t, "ab\x00\x00", string(store.buf))
	assert.Equal(t, 1, c.Stats().Abandoned)
}

func TestBarrierStopsRun(t *testing.T) {
	store := newMemStore(6)
	c := New(store)
	c.Barrier().Expect(3)
	errCh := start(t, c)

	h := c.Handle()
	for i, r := range []ranges.Range{{Start: 4, End: 6}, {Start: 0, End: 2}, {Start: 2, End: 4}} {
		_, err := h.Submit(context.Background(), Chunk{Index: i, Range: r, Data: []byte("xy")})
		require.NoError(t, err)
	}

	require.NoError(t, c.Barrier().Wait(context.Background()))
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the barrier completed")
	}

	acked, expected := c.Barrier().Progress()
	assert.Equal(t, 3, acked)
	assert.Equal(t, 3, expected)
	assert.Equal(t, 1, store.flushes)

	_, err := h.Submit(context.Background(), Chunk{Range: ranges.Range{Start: 0, End: 1}, Data: []byte("z")})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBarrierIncomplete(t *testing.T) {
	store := newMemStore(4)
	c := New(store)
	c.Barrier().Expect(2)
	errCh := start(t, c)

	_, err := c.Handle().Submit(context.Background(), Chunk{Range: ranges.Range{Start: 0, End: 2}, Data: []byte("ab")})
	require.NoError(t, err)
	require.NoError(t, stop(t, c, errCh))

	err = c.Barrier().Wait(context.Background())
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestBarrierCountsDistinctRanges(t *testing.T) {
	store := newMemStore(8)
	c := New(store)
	c.Barrier().Expect(2)
	errCh := start(t, c)

	h := c.Handle()
	first := Chunk{Index: 0, Range: ranges.Range{Start: 0, End: 4}, Data: []byte("abcd")}
	for range 2 {
		_, err := h.Submit(context.Background(), first)
		require.NoError(t, err)
	}

	acked, expected := c.Barrier().Progress()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 2, expected)
	select {
	case <-c.Barrier().Done():
		t.Fatal("barrier completed with a range still missing")
	default:
	}

	_, err := h.Submit(context.Background(), Chunk{Index: 1, Range: ranges.Range{Start: 4, End: 8}, Data: []byte("efgh")})
	require.NoError(t, err)
	require.NoError(t, c.Barrier().Wait(context.Background()))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the barrier completed")
	}
	assert.Equal(t, "abcdefgh", string(store.buf))
	assert.Equal(t, 3, c.Stats().Acked)
}

func TestBarrierExpectZero(t *testing.T) {
	c := New(newMemStore(0))
	c.Barrier().Expect(0)
	require.NoError(t, c.Barrier().Wait(context.Background()))
}

func TestCloseDrainsMailbox(t *testing.T) {
	store := newMemStore(10)
	c := New(store, WithMailboxSize(10))

	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			_, err := c.Handle().Submit(context.Background(), Chunk{
				Index: i,
				Range: ranges.Range{Start: int64(i), End: int64(i + 1)},
				Data:  []byte{'0' + byte(i)},
			})
			results <- err
		}(i)
	}
	require.Eventually(t, func() bool { return len(c.mailbox) == 10 }, time.Second, time.Millisecond)

	// Close before Run: queued requests are still merged.
	c.Close()
	require.NoError(t, c.Run(context.Background()))

	for i := 0; i < 10; i++ {
		assert.NoError(t, <-results)
	}
	assert.Equal(t, "0123456789", string(store.buf))

	_, err := c.Handle().Submit(context.Background(), Chunk{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunContextCanceled(t *testing.T) {
	store := newMemStore(4)
	c := New(store)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.flushes)

	_, err = c.Handle().Submit(context.Background(), Chunk{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFlushErrorReturned(t *testing.T) {
	boom := errors.New("sync failed")
	store := newMemStore(1)
	store.flushErr = boom
	c := New(store)
	errCh := start(t, c)
	assert.ErrorIs(t, stop(t, c, errCh), boom)
}

func TestRunTwice(t *testing.T) {
	c := New(newMemStore(1))
	errCh := start(t, c)
	require.Eventually(t, func() bool { return c.running.Load() }, time.Second, time.Millisecond)
	assert.Error(t, c.Run(context.Background()))
	require.NoError(t, stop(t, c, errCh))
}

func TestZeroHandle(t *testing.T) {
	var h Handle
	_, err := h.Submit(context.Background(), Chunk{})
	assert.ErrorIs(t, err, ErrClosed)
}
