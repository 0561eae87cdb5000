// Package future implements the single-shot Future/Promise pair used to
// deliver a result (or failure) to a caller across a suspension point,
// the way the teacher's writeItem.errCh and franz-go's record promise
// deliver results across a goroutine boundary — except here the
// fulfillment side and the wait side are split into two handles so a
// Promise can be handed to one component (a Batch, a recvBatch task)
// while the Future is returned to the caller.
package future

import (
	"context"
	"sync"
)

// cell is the shared state between a Future and its Promise.
type cell[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	value    T
	err      error
	set      bool
	onWait   func()
	waitOnce sync.Once
}

// Future is the caller's half of a single-shot result cell.
type Future[T any] struct {
	c *cell[T]
}

// Promise is the producer's half of a single-shot result cell.
type Promise[T any] struct {
	c *cell[T]
}

// New creates a linked Future/Promise pair. onWait, if non-nil, runs at
// most once, synchronously, the first time Wait is called on the
// returned Future, before it blocks.
func New[T any](onWait func()) (Future[T], Promise[T]) {
	c := &cell[T]{
		done:   make(chan struct{}),
		onWait: onWait,
	}
	return Future[T]{c: c}, Promise[T]{c: c}
}

// SetValue fulfills the promise with a value. Calling it more than once,
// or after SetException, is an invariant violation and panics.
func (p Promise[T]) SetValue(v T) {
	p.c.mu.Lock()
	if p.c.set {
		p.c.mu.Unlock()
		panic("future: promise fulfilled more than once")
	}
	p.c.value = v
	p.c.set = true
	p.c.mu.Unlock()
	close(p.c.done)
}

// SetException fails the promise. Calling it more than once, or after
// SetValue, is an invariant violation and panics.
func (p Promise[T]) SetException(err error) {
	if err == nil {
		panic("future: SetException called with nil error")
	}
	p.c.mu.Lock()
	if p.c.set {
		p.c.mu.Unlock()
		panic("future: promise fulfilled more than once")
	}
	p.c.err = err
	p.c.set = true
	p.c.mu.Unlock()
	close(p.c.done)
}

// Wait blocks until the promise is fulfilled, ctx is done, or, on the
// first call only, runs the on-wait hook before blocking. It returns the
// value or the recorded failure.
func (f Future[T]) Wait(ctx context.Context) (T, error) {
	if f.c.onWait != nil {
		f.c.waitOnce.Do(f.c.onWait)
	}
	select {
	case <-f.c.done:
		f.c.mu.Lock()
		defer f.c.mu.Unlock()
		return f.c.value, f.c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the promise has already been fulfilled, without
// blocking and without running the on-wait hook.
func (f Future[T]) Done() bool {
	select {
	case <-f.c.done:
		return true
	default:
		return false
	}
}
