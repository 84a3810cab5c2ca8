package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

func TestNew_presetHeaders(t *testing.T) {
	var ua, lang, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		lang = r.Header.Get("Accept-Language")
		custom = r.Header.Get("Range")
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Range", "bytes=0-9")
	req.Header.Set("Accept-Language", "en")
	resp, err := New(Options{}).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if ua != BrowserHeaders.Get("User-Agent") {
		t.Errorf("User-Agent = %q", ua)
	}
	if lang != "en" {
		t.Errorf("request header should win; Accept-Language = %q", lang)
	}
	if custom != "bytes=0-9" {
		t.Errorf("Range = %q", custom)
	}
	if req.Header.Get("User-Agent") != "" {
		t.Error("caller's request was mutated")
	}
}

func TestNew_decodesContentEncoding(t *testing.T) {
	const want = `{"data":[{"name":"CCTV1","url":"/a.m3u8"}]}`
	encoders := map[string]func(io.Writer) io.WriteCloser{
		"br":   func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
		"gzip": func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
	}
	for enc, newW := range encoders {
		t.Run(enc, func(t *testing.T) {
			var buf bytes.Buffer
			zw := newW(&buf)
			zw.Write([]byte(want))
			zw.Close()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", enc)
				w.Write(buf.Bytes())
			}))
			defer srv.Close()

			resp, err := New(Options{}).Get(srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			got, _ := io.ReadAll(resp.Body)
			if string(got) != want {
				t.Errorf("body = %q", got)
			}
			if resp.Header.Get("Content-Encoding") != "" {
				t.Error("Content-Encoding should be removed after decoding")
			}
		})
	}
}

func TestNew_rateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := New(Options{RequestsPerSecond: 20})
	start := time.Now()
	for i := 0; i < 5; i++ {
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	// burst 20 covers all five; this only checks the limiter does not reject or stall.
	if el := time.Since(start); el > 2*time.Second {
		t.Errorf("5 requests took %v", el)
	}
}

func TestHostSemaphore_limitsPerHost(t *testing.T) {
	sem := NewHostSemaphore(2)
	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := sem.AcquireContext(context.Background(), "http://1.2.3.4:8080/tsfile/a.ts")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak)
	}
}

func TestHostSemaphore_contextCancel(t *testing.T) {
	sem := NewHostSemaphore(1)
	release, err := sem.AcquireContext(context.Background(), "http://h:1/x")
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := sem.AcquireContext(ctx, "http://h:1/y"); err == nil {
		t.Error("expected context error while host slot is held")
	}
	var nilSem *HostSemaphore
	rel, err := nilSem.AcquireContext(context.Background(), "http://h:1/")
	if err != nil {
		t.Fatal(err)
	}
	rel()
}
