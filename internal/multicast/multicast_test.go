package multicast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseTemplates(t *testing.T) {
	in := "\ufeffCCTV1,/rtp/239.3.1.129:8008\n" +
		"\n" +
		"broken line\n" +
		"a,b,c\n" +
		" 湖南卫视 , /rtp/239.3.1.241:8000 \n" +
		",/rtp/1.1.1.1:1\n"
	got, err := ParseTemplates(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []Template{
		{"CCTV1", "/rtp/239.3.1.129:8008"},
		{"湖南卫视", "/rtp/239.3.1.241:8000"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "北京电信.txt"), []byte("CCTV1,/rtp/239.3.1.129:8008\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadTemplates(dir, "北京电信")
	if err != nil || len(got) != 1 {
		t.Fatalf("LoadTemplates = %v, %v", got, err)
	}
	if _, err := LoadTemplates(dir, "上海联通"); !errors.Is(err, ErrNoTemplates) {
		t.Errorf("missing province err = %v", err)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != StatusPath {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html>udpxy status</html>"))
	}))
	defer srv.Close()

	p := New(srv.Client(), Options{Logger: zerolog.Nop()})
	got := p.Probe(context.Background(), srv.URL, []Template{{"CCTV1", "/rtp/239.3.1.129:8008"}, {"X", "udp/1.2.3.4:5"}})
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].URL != srv.URL+"/rtp/239.3.1.129:8008" || got[1].URL != srv.URL+"/udp/1.2.3.4:5" {
		t.Errorf("urls = %q, %q", got[0].URL, got[1].URL)
	}
	if got[0].Name != "CCTV1" || string(got[0].Source) != srv.URL {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestProbe_emptyOnFailure(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tmpl := []Template{{"CCTV1", "/rtp/239.3.1.129:8008"}}
	tests := []struct {
		name    string
		gateway string
		timeout time.Duration
	}{
		{"non-200", bad.URL, 0},
		{"timeout", slow.URL, 50 * time.Millisecond},
		{"unreachable", closedURL, 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(nil, Options{Timeout: tt.timeout, Logger: zerolog.Nop()})
			if got := p.Probe(context.Background(), tt.gateway, tmpl); len(got) != 0 {
				t.Errorf("got %+v, want empty", got)
			}
		})
	}
}
