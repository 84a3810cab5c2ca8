package httpclient

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

// BrowserHeaders are sent on every request unless the request already sets the header.
// Hotel portals and udpxy status pages answer desktop browsers; a bare Go client is
// sometimes served an error page instead.
var BrowserHeaders = http.Header{
	"User-Agent":                {"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"},
	"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"},
	"Accept-Encoding":           {"gzip, deflate, br"},
	"Accept-Language":           {"zh-CN,zh;q=0.9"},
	"Cache-Control":             {"no-cache"},
	"Pragma":                    {"no-cache"},
	"Upgrade-Insecure-Requests": {"1"},
}

// Options configures New. Zero values pick the defaults.
type Options struct {
	Timeout           time.Duration // whole-request cap; per-call deadlines come from the caller's context
	Headers           http.Header   // preset headers; nil = BrowserHeaders
	RequestsPerSecond float64       // global request rate; 0 = unlimited
}

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout:   DefaultTimeout,
		Transport: newTransport(),
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}
}

// Default returns the shared tuned HTTP client without preset headers.
func Default() *http.Client {
	return defaultClient
}

// New returns the client injected into a run: one instance per run, configured once.
// Every request gets the preset headers, waits on the optional rate limiter, and has
// br/gzip/deflate bodies decoded transparently.
func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	headers := opts.Headers
	if headers == nil {
		headers = BrowserHeaders
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &presetTransport{
			base:    newTransport(),
			headers: headers.Clone(),
			limiter: limiter,
		},
	}
}
