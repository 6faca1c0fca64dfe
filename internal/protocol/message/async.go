package message

import (
	"context"
	"sync"
	"time"
)

// AsyncResponse is a single-slot wait. The first Set or Fail wins; later deliveries are
// ignored until Reset.
type AsyncResponse struct {
	mu  sync.Mutex
	cur *slot
}

type slot struct {
	done chan struct{}
	resp *Envelope
	err  error
	set  bool
}

func newSlot() *slot {
	return &slot{done: make(chan struct{})}
}

func NewAsyncResponse() *AsyncResponse {
	return &AsyncResponse{cur: newSlot()}
}

// Set delivers resp and releases waiters. It reports whether this call delivered.
func (a *AsyncResponse) Set(resp *Envelope) bool {
	return a.deliver(resp, nil)
}

// Fail releases waiters with err instead of a response.
func (a *AsyncResponse) Fail(err error) bool {
	return a.deliver(nil, err)
}

func (a *AsyncResponse) deliver(resp *Envelope, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.cur
	if s.set {
		return false
	}
	s.resp, s.err, s.set = resp, err, true
	close(s.done)
	return true
}

func (a *AsyncResponse) current() *slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur
}

// Done is closed once a response or failure has been delivered.
func (a *AsyncResponse) Done() <-chan struct{} {
	return a.current().done
}

// Wait blocks until delivery or ctx ends. A cancelled wait returns ctx.Err().
func (a *AsyncResponse) Wait(ctx context.Context) (*Envelope, error) {
	s := a.current()
	select {
	case <-s.done:
		return s.resp, s.err
	default:
	}
	select {
	case <-s.done:
		// fields are immutable once done is closed
		return s.resp, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d. A non-positive d waits forever.
func (a *AsyncResponse) WaitTimeout(d time.Duration) (*Envelope, error) {
	ctx := context.Background()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return a.Wait(ctx)
}

// Response returns the delivered response without blocking.
func (a *AsyncResponse) Response() (*Envelope, bool) {
	s := a.current()
	select {
	case <-s.done:
		return s.resp, true
	default:
		return nil, false
	}
}

// Reset clears the slot so the AsyncResponse can be reused. Waiters blocked on the old
// slot stay blocked until their context ends.
func (a *AsyncResponse) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur.set {
		a.cur = newSlot()
	}
}
