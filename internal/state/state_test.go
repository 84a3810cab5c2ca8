package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snapetech/iptvscout/internal/channel"
)

func TestLoad_defaults(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"", filepath.Join(dir, "missing.json"), bad} {
		d := Load(path)
		if got := d.HotelEndpoints(); got == nil || len(got) != 0 {
			t.Errorf("Load(%q).HotelEndpoints() = %#v, want empty", path, got)
		}
		if _, ok := d[KeyHotelChannels]; !ok {
			t.Errorf("Load(%q) missing %s", path, KeyHotelChannels)
		}
	}
}

func TestUpdate_preservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "iptv.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"custom":{"keep":true},"hotel":["old:1"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := SetHotel(path, []string{"1.2.3.4:8080"}); err != nil {
		t.Fatalf("SetHotel: %v", err)
	}
	d := Load(path)
	if got := d.HotelEndpoints(); len(got) != 1 || got[0] != "1.2.3.4:8080" {
		t.Errorf("hotel = %v", got)
	}
	var custom map[string]bool
	if err := json.Unmarshal(d["custom"], &custom); err != nil || !custom["keep"] {
		t.Errorf("custom key lost: %s", d["custom"])
	}
}

func TestUpdate_createsDirAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "iptv.json")
	if err := Update(path, "x", 1); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "iptv.json" {
		t.Errorf("dir entries = %v", entries)
	}
}

func TestHotelChannels_roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iptv.json")
	in := []channel.Channel{
		{Name: "CCTV1", URL: "http://h/a.m3u8", SpeedMBps: 1.5, Resolution: channel.Resolution{Width: 1920, Height: 1080}, Source: "h:1"},
		{Name: "湖南卫视", URL: "http://h/b.m3u8", SpeedMBps: 0.2},
	}
	if err := SetHotelChannels(path, in); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "湖南卫视") {
		t.Errorf("names should be stored unescaped:\n%s", raw)
	}
	got := Load(path).HotelChannels()
	if len(got) != 2 || got[0] != in[0] {
		t.Fatalf("HotelChannels = %+v", got)
	}
	if got[1].Resolution.Known() {
		t.Errorf("resolution should be unknown, got %v", got[1].Resolution)
	}
}

func TestMulticast_roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iptv.json")
	if err := SetMulticast(path, map[string][]string{"北京电信": {"http://g:1"}}); err != nil {
		t.Fatal(err)
	}
	gw := map[string]MulticastGateway{"http://g:1": {Data: map[string]string{"CCTV1": "http://g:1/rtp/239.3.1.1:8000"}}}
	if err := SetMulticastChannels(path, gw); err != nil {
		t.Fatal(err)
	}
	d := Load(path)
	if got := d.Multicast()["北京电信"]; len(got) != 1 {
		t.Errorf("multicast = %v", d.Multicast())
	}
	if got := d.MulticastChannels()["http://g:1"].Data["CCTV1"]; got != "http://g:1/rtp/239.3.1.1:8000" {
		t.Errorf("multicast_channels = %v", d.MulticastChannels())
	}
	if _, ok := d[KeyHotel]; !ok {
		t.Error("default hotel key should survive multicast updates")
	}
}
