// Package workerpool is C4's "thread pool": a bounded-concurrency task
// runner for the CPU-bound work (stripe CRCs, Reed-Solomon encode and
// decode) that §5 requires to run off the archive client's async I/O
// threads. Modeled as an explicitly constructed, explicitly sized
// context object per §9 ("do not rely on lazy global initialization"),
// not a package-level singleton.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent execution of Submit'd work to Size goroutines.
// The reference implementation sizes this at 64; callers should tune to
// their hardware.
type Pool struct {
	sem *semaphore.Weighted
}

// New constructs a Pool that runs at most size tasks concurrently.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Future is the result of a task submitted to the pool.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the task completes and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Submit schedules fn to run on the pool and returns a Future for its
// result. Submit itself never blocks the caller past acquiring a slot;
// if the pool is saturated, Submit blocks until a slot frees or ctx is
// done.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		fut.err = err
		close(fut.done)
		return fut
	}
	go func() {
		defer p.sem.Release(1)
		defer close(fut.done)
		fut.val, fut.err = fn()
	}()
	return fut
}
