package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/metrics"
	"github.com/snapetech/iptvscout/internal/ranking"
	"github.com/snapetech/iptvscout/internal/state"
)

func newServer(t *testing.T) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iptv.json")
	return &Server{
		StatePath:  path,
		Aggregator: ranking.New(ranking.Policy{}),
		Metrics:    metrics.New(),
		Logger:     zerolog.Nop(),
	}, path
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter(t *testing.T) {
	s, path := newServer(t)
	if err := state.SetHotelChannels(path, []channel.Channel{
		{Name: "CCTV1", URL: "http://h/a.m3u8", SpeedMBps: 1.5},
		{Name: "湖南卫视", URL: "http://h/b.m3u8", SpeedMBps: 0.1},
	}); err != nil {
		t.Fatal(err)
	}
	h := s.Router()

	tests := []struct {
		path        string
		contentType string
		contains    string
		absent      string
	}{
		{"/healthz", "text/plain", "ok", ""},
		{"/readyz", "text/plain", "ready", ""},
		{"/playlist.txt", "text/plain", "中央频道,#genre#\nCCTV1,http://h/a.m3u8,1.5\n", "湖南卫视,"},
		{"/playlist.m3u", "audio/x-mpegurl", "group-title=\"中央频道\",CCTV1", "湖南卫视"},
		{"/state.json", "application/json", `"hotel_channels"`, ""},
		{"/metrics", "", "go_goroutines", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, h, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("code = %d", w.Code)
			}
			if tt.contentType != "" && !strings.HasPrefix(w.Header().Get("Content-Type"), tt.contentType) {
				t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
			}
			body := w.Body.String()
			if !strings.Contains(body, tt.contains) {
				t.Errorf("body missing %q:\n%s", tt.contains, body)
			}
			if tt.absent != "" && strings.Contains(body, tt.absent) {
				t.Errorf("body should not contain %q:\n%s", tt.absent, body)
			}
		})
	}
}

func TestRouter_noState(t *testing.T) {
	s, _ := newServer(t)
	h := s.Router()
	if w := get(t, h, "/state.json"); w.Code != http.StatusNotFound {
		t.Errorf("state.json code = %d", w.Code)
	}
	w := get(t, h, "/playlist.txt")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), "中央频道,#genre#\n\n") {
		t.Errorf("empty playlist: %d %q", w.Code, w.Body.String())
	}
	if w := get(t, h, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz code = %d", w.Code)
	}
	if w := get(t, h, "/readyz"); w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "no state file") {
		t.Errorf("readyz: %d %q", w.Code, w.Body.String())
	}
	if w := get(t, h, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown path code = %d", w.Code)
	}
}
