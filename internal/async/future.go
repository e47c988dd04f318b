package async

import (
	"context"
	"sync"
)

// Future is a single-assignment result. It resolves exactly once; later
// Resolve/Reject calls are ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	val       T
	err       error
	listeners []listener
}

type listener struct {
	fn func()
	ex Executor
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future with a value. It reports whether this call
// completed it.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with an error.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.mu.Lock()
		f.val, f.err = v, err
		ls := f.listeners
		f.listeners = nil
		close(f.done)
		f.mu.Unlock()

		for _, l := range ls {
			l.ex.Execute(l.fn)
		}
		completed = true
	})
	return completed
}

// Done returns a channel closed once the future resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get waits for the result or for ctx.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet returns the resolved value without blocking. ok is false when the
// future is still pending.
func (f *Future[T]) TryGet() (v T, ok bool, err error) {
	if !f.IsDone() {
		return v, false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, true, f.err
}

// AddListener runs fn on ex once the future resolved (immediately
// submitted if it already has).
func (f *Future[T]) AddListener(fn func(), ex Executor) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		ex.Execute(fn)
		return
	default:
	}
	f.listeners = append(f.listeners, listener{fn: fn, ex: ex})
	f.mu.Unlock()
}
