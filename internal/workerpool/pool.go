// Package workerpool provides a generic bounded worker pool for running
// a function over a slice of items concurrently.
package workerpool

import (
	"context"
	"sync"
)

// Run executes fn for each item in items using up to workers goroutines.
// It returns the first non-nil error from fn, or nil if all succeed.
// In-flight items finish even after an error; unstarted items are skipped
// once the context is cancelled.
func Run[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	work := make(chan T)
	var wg sync.WaitGroup

	var once sync.Once
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if err := fn(ctx, item); err != nil {
					once.Do(func() { firstErr = err })
				}
			}
		}()
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		work <- item
	}
	close(work)

	wg.Wait()
	return firstErr
}
