package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/iptvscout/internal/discovery"
	"github.com/snapetech/iptvscout/internal/httpclient"
	"github.com/snapetech/iptvscout/internal/state"
)

// isolate points every path setting into a temp dir and clears discovery tokens.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{"IPTV_SCOUT_QUAKE_TOKEN", "TOKEN_360", "token_360", "IPTV_SCOUT_HISTORY_DB", "IPTV_SCOUT_METRICS_FILE", "IPTV_SCOUT_RULES_FILE", "IPTV_SCOUT_M3U_OUTPUT", "IPTV_SCOUT_STATE_MAX_AGE", "IPTV_SCOUT_QUAKE_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("IPTV_SCOUT_STATE", filepath.Join(dir, "data", "iptv.json"))
	t.Setenv("IPTV_SCOUT_OUTPUT", filepath.Join(dir, "hotel.txt"))
	t.Setenv("IPTV_SCOUT_MULTICAST_OUTPUT", filepath.Join(dir, "multicast.txt"))
	t.Setenv("IPTV_SCOUT_TEMPLATES_DIR", filepath.Join(dir, "udp"))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	base := []string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-format", "json", "--log-level", "error"}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// portal serves a hotel listing plus one playable HLS channel.
func portal(t *testing.T) *httptest.Server {
	t.Helper()
	segment := bytes.Repeat([]byte{0x47, 0x1f, 0xff, 0x10}, 256<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iptv/live/1000.json":
			w.Write([]byte(`{"data":[{"name":"中央一台","url":"/a.m3u8"},{"name":"测试频道","url":"/b.m3u8"}]}`))
		case "/a.m3u8":
			w.Write([]byte("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nseg.ts\n"))
		case "/seg.ts":
			http.ServeContent(w, r, "seg.ts", time.Time{}, bytes.NewReader(segment))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_missingTokenIsFatal(t *testing.T) {
	isolate(t)
	_, err := execute(t, "run")
	if !errors.Is(err, discovery.ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestRun_knownEndpoints(t *testing.T) {
	dir := isolate(t)
	srv := portal(t)
	host := srv.Listener.Addr().String()
	out := filepath.Join(dir, "out", "hotel.txt")

	stdout, err := execute(t, "run", "--no-discovery", "-e", host, "-o", out, "--m3u", filepath.Join(dir, "hotel.m3u"))
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stdout)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	if !strings.HasPrefix(body, "中央频道,#genre#\nCCTV1,http://"+host+"/a.m3u8,") {
		t.Errorf("playlist:\n%s", body)
	}
	if strings.Contains(body, "测试") {
		t.Errorf("filtered channel rendered:\n%s", body)
	}
	if !strings.Contains(stdout, "1 channels written") {
		t.Errorf("stdout = %q", stdout)
	}
	if eps := state.Load(filepath.Join(dir, "data", "iptv.json")).HotelEndpoints(); len(eps) != 1 || eps[0] != host {
		t.Errorf("state hotel = %v", eps)
	}
}

func TestRun_discoveryOnSharedClient(t *testing.T) {
	dir := isolate(t)
	srv := portal(t)
	host, port, _ := strings.Cut(srv.Listener.Addr().String(), ":")
	agents := make(chan string, 4)
	quake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case agents <- r.Header.Get("User-Agent"):
		default:
		}
		fmt.Fprintf(w, `{"code":0,"data":[{"ip":%q,"port":%s}]}`, host, port)
	}))
	defer quake.Close()
	t.Setenv("IPTV_SCOUT_QUAKE_TOKEN", "tok")
	t.Setenv("IPTV_SCOUT_QUAKE_URL", quake.URL)

	if stdout, err := execute(t, "run"); err != nil {
		t.Fatalf("run: %v\n%s", err, stdout)
	}
	select {
	case ua := <-agents:
		if want := httpclient.BrowserHeaders.Get("User-Agent"); ua != want {
			t.Errorf("discovery User-Agent = %q, want the run client's %q", ua, want)
		}
	default:
		t.Fatal("discovery was not queried")
	}
	data, err := os.ReadFile(filepath.Join(dir, "hotel.txt"))
	if err != nil || !strings.Contains(string(data), "CCTV1,http://"+srv.Listener.Addr().String()+"/a.m3u8,") {
		t.Errorf("playlist from discovered host: %v\n%s", err, data)
	}
}

func TestRun_noCandidates(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "run", "--no-discovery"); err == nil || !strings.Contains(err.Error(), "no candidate endpoints") {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_invalidStrategy(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "run", "--no-discovery", "--strategy", "fastest"); err == nil || !strings.Contains(err.Error(), "sample strategy") {
		t.Fatalf("err = %v", err)
	}
}

func TestProbeCmd(t *testing.T) {
	isolate(t)
	srv := portal(t)
	stdout, err := execute(t, "probe", srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	if want := "CCTV1," + srv.URL + "/a.m3u8\n"; stdout != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}
}

func TestProbeCmd_unreachable(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "probe", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error for unreachable portal")
	}
}

func TestSampleCmd(t *testing.T) {
	isolate(t)
	srv := portal(t)
	stdout, err := execute(t, "sample", srv.URL+"/a.m3u8")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, " MB/s ") || strings.HasPrefix(stdout, "0.0 ") {
		t.Errorf("stdout = %q", stdout)
	}
	if _, err := execute(t, "sample", "udp://@239.1.1.1:5000"); err == nil {
		t.Error("expected error for udp url")
	}
}

func TestMulticastCmd_staticGateways(t *testing.T) {
	dir := isolate(t)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/status/":
			w.Write([]byte("udpxy status"))
		case strings.HasPrefix(r.URL.Path, "/rtp/"):
			w.Write(bytes.Repeat([]byte{0x47}, 512<<10))
		default:
			http.NotFound(w, r)
		}
	}))
	defer gw.Close()
	if err := os.MkdirAll(filepath.Join(dir, "udp"), 0o755); err != nil {
		t.Fatal(err)
	}
	tmpl := "中央一台,/rtp/239.3.1.129:8008\n湖南卫视,/rtp/239.3.1.241:8000\n"
	if err := os.WriteFile(filepath.Join(dir, "udp", "上海电信.txt"), []byte(tmpl), 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, err := execute(t, "multicast", "-g", "上海电信="+gw.URL)
	if err != nil {
		t.Fatalf("multicast: %v\n%s", err, stdout)
	}
	data, err := os.ReadFile(filepath.Join(dir, "multicast.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"CCTV1," + gw.URL + "/rtp/239.3.1.129:8008,", "湖南卫视," + gw.URL + "/rtp/239.3.1.241:8000,"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("playlist missing %q:\n%s", want, data)
		}
	}
	if got := state.Load(filepath.Join(dir, "data", "iptv.json")).Multicast()["上海电信"]; len(got) != 1 {
		t.Errorf("state multicast = %v", got)
	}
}

func TestParseGatewayFlags(t *testing.T) {
	got, err := parseGatewayFlags([]string{"北京电信=http://a:1", "北京电信=http://b:2", " 上海联通 = http://c:3 "})
	if err != nil {
		t.Fatal(err)
	}
	if len(got["北京电信"]) != 2 || got["上海联通"][0] != "http://c:3" {
		t.Errorf("got %v", got)
	}
	for _, bad := range []string{"nourl", "=http://a", "北京电信="} {
		if _, err := parseGatewayFlags([]string{bad}); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestCheckCmd(t *testing.T) {
	dir := isolate(t)
	if _, err := execute(t, "check"); err == nil || !strings.Contains(err.Error(), "no state file") {
		t.Fatalf("check without state: err = %v", err)
	}
	if err := state.SetHotel(filepath.Join(dir, "data", "iptv.json"), []string{"1.2.3.4:80"}); err != nil {
		t.Fatal(err)
	}
	if out, err := execute(t, "check"); err != nil || !strings.Contains(out, "iptv.json: ok") {
		t.Fatalf("check: %v\n%s", err, out)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			http.Error(w, "no state file", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	if _, err := execute(t, "check", "--url", srv.URL); err == nil || !strings.Contains(err.Error(), "/readyz") {
		t.Fatalf("check --url: err = %v", err)
	}
}
