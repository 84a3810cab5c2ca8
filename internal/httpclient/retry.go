package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy says which responses DoWithRetry retries and how long it waits.
type RetryPolicy struct {
	Attempts int           // total tries including the first; <= 1 never retries
	Backoff  time.Duration // wait before the second try, doubled for each later one
	MaxWait  time.Duration // cap on a single wait, Retry-After included; 0 = no cap
	On429    bool          // retry 429, honouring Retry-After
	On5xx    bool
}

// DefaultRetryPolicy suits search APIs that throttle with 429 and flap with 502/503.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Backoff:  time.Second,
	MaxWait:  30 * time.Second,
	On429:    true,
	On5xx:    true,
}

// retryable returns the wait before the next try and whether to retry at all.
func (p RetryPolicy) retryable(resp *http.Response, try int) (time.Duration, bool) {
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests && p.On429:
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			return p.capped(d), true
		}
	case code >= 500 && p.On5xx:
	default:
		return 0, false
	}
	return p.capped(p.Backoff << (try - 1)), true
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.MaxWait > 0 && d > p.MaxWait {
		return p.MaxWait
	}
	return d
}

// DoWithRetry sends req and retries 429 and 5xx answers as policy allows.
// Other 4xx are returned as-is. A request body is replayed through
// req.GetBody; without it the first response is returned unretried.
// The caller closes resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	for try := 1; ; try++ {
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if try >= policy.Attempts || !replayable {
			return resp, nil
		}
		wait, ok := policy.retryable(resp, try)
		if !ok {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		next := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			next.Body = body
		}
		req = next
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if sec, err := strconv.Atoi(s); err == nil {
		if sec < 0 {
			return 0, false
		}
		return time.Duration(sec) * time.Second, true
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 0, false
	}
	return time.Until(t), true
}
