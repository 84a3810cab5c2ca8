// Package workpool runs a function over a slice with bounded concurrency.
package workpool

import (
	"context"
	"sync"
)

// Map calls fn for every item using at most n goroutines at a time and returns the
// results in input order. Each task writes only its own slot, so fn needs no locking.
// Items not yet started when ctx is done are skipped and keep the zero R.
func Map[T, R any](ctx context.Context, n int, items []T, fn func(ctx context.Context, i int, item T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	if n <= 0 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}
	sem := make(chan struct{}, n)
	var wg sync.WaitGroup
	for i := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return out
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = fn(ctx, i, items[i])
		}(i)
	}
	wg.Wait()
	return out
}
