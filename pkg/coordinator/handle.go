package coordinator

import "context"

// Handle submits chunks to a Coordinator. The zero Handle is closed.
type Handle struct {
	mailbox chan<- request
	closing <-chan struct{}
	done    <-chan struct{}
}

// Submit hands c to the coordinator and waits until it has been merged.
//
// Submit blocks while the mailbox is full. It returns ErrClosed if the
// coordinator has been closed or has stopped, and ctx.Err() if ctx is done
// first. A *RejectError is returned when the coordinator refuses the chunk.
// The caller must not modify c.Data after calling Submit.
func (h Handle) Submit(ctx context.Context, c Chunk) (Ack, error) {
	if h.mailbox == nil {
		return Ack{}, ErrClosed
	}

	select {
	case <-h.closing:
		return Ack{}, ErrClosed
	case <-h.done:
		return Ack{}, ErrClosed
	default:
	}

	req := request{ctx: ctx, chunk: c, reply: make(chan reply, 1)}

	select {
	case h.mailbox <- req:
	case <-h.closing:
		return Ack{}, ErrClosed
	case <-h.done:
		return Ack{}, ErrClosed
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.ack, r.err
	case <-h.done:
		// The coordinator may have answered just before stopping.
		select {
		case r := <-req.reply:
			return r.ack, r.err
		default:
			return Ack{}, ErrClosed
		}
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}
