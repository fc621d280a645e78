package streamutil

import (
	"context"
	"sync"
)

// YieldFunc receives converted stream elements. Returning false stops further forwarding.
type YieldFunc[T any] func(T) bool

// Forward pumps an upstream stream onto a channel from its own goroutine.
// forward calls yield per element until it returns false or the upstream is
// exhausted. The returned cancel stops forwarding and reports the closer's
// error; closer runs exactly once however the stream ends.
func Forward[T any](ctx context.Context, closer func() error, forward func(ctx context.Context, yield YieldFunc[T])) (<-chan T, func() error) {
	ctx, stop := context.WithCancel(ctx)
	out := make(chan T)

	var (
		once     sync.Once
		closeErr error
	)
	release := func() error {
		once.Do(func() {
			stop()
			if closer != nil {
				closeErr = closer()
			}
		})
		return closeErr
	}

	go func() {
		defer close(out)
		defer release()

		forward(ctx, func(item T) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- item:
				return true
			}
		})
	}()

	return out, release
}
