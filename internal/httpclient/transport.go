package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

type presetTransport struct {
	base    http.RoundTripper
	headers http.Header
	limiter *rate.Limiter
}

func (t *presetTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header[k] = v
		}
	}
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	decodeBody(resp)
	return resp, nil
}

// decodeBody swaps resp.Body for a decoding reader when the server applied a content coding.
// Setting Accept-Encoding ourselves turns off net/http's own gzip handling, so all three are done here.
func decodeBody(resp *http.Response) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if enc == "" || enc == "identity" || resp.Body == nil || resp.Body == http.NoBody {
		return
	}
	var rc io.ReadCloser
	switch enc {
	case "br":
		rc = readCloser{brotli.NewReader(resp.Body), resp.Body}
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			// Empty or truncated gzip: leave the body for the caller to fail on.
			return
		}
		rc = readCloser{zr, resp.Body}
	case "deflate":
		rc = readCloser{flate.NewReader(resp.Body), resp.Body}
	default:
		return
	}
	resp.Body = rc
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
}

type readCloser struct {
	io.Reader
	body io.Closer
}

func (r readCloser) Close() error {
	if c, ok := r.Reader.(io.Closer); ok {
		c.Close()
	}
	return r.body.Close()
}
