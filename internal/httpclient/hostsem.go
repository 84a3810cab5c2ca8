package httpclient

import (
	"context"
	"net/url"
	"sync"
)

// HostSemaphore is a per-host concurrency limiter shared by the prober and
// sampler of one run, so a channel-rich endpoint is not hit by the whole
// sample pool at once.
//
// Usage: acquire before sending a request, release when the body is consumed.
//
//	release, err := sem.AcquireContext(ctx, url)
//	if err != nil { ... }
//	defer release()
type HostSemaphore struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	limit int
}

func NewHostSemaphore(concurrency int) *HostSemaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HostSemaphore{
		sems:  make(map[string]chan struct{}),
		limit: concurrency,
	}
}

// AcquireContext blocks until a slot is free for the URL's scheme+host and returns a
// release func. It gives up when ctx is done. A nil HostSemaphore never blocks.
func (h *HostSemaphore) AcquireContext(ctx context.Context, host string) (func(), error) {
	if h == nil {
		return func() {}, nil
	}
	sem := h.semFor(host)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HostSemaphore) semFor(host string) chan struct{} {
	// Normalise: strip path/query, keep scheme+host.
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Scheme + "://" + u.Host
	}
	h.mu.Lock()
	s, ok := h.sems[host]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.sems[host] = s
	}
	h.mu.Unlock()
	return s
}
