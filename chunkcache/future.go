package chunkcache

import "context"

// Future is the pending result of GetAsync.
type Future[V any] struct {
	done chan struct{}
	v    V
	err  error
}

// GetAsync starts Get(ctx, key) in the background and returns immediately.
// Several futures can be started before any is waited for, so that their
// fills overlap.  Cancelling ctx abandons the request.
func (c *Cache[K, V]) GetAsync(ctx context.Context, key K) *Future[V] {
	f := &Future[V]{done: make(chan struct{})}
	go func() {
		f.v, f.err = c.Get(ctx, key)
		close(f.done)
	}()
	return f
}

// Wait blocks until the value is available or ctx is done.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.v, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
