// Package state persists discovered endpoints and channel results in a single
// JSON document (data/iptv.json). Each writer replaces only its own keys.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/snapetech/iptvscout/internal/channel"
)

// Keys of the state document.
const (
	KeyHotel             = "hotel"
	KeyHotelChannels     = "hotel_channels"
	KeyMulticast         = "multicast"
	KeyMulticastChannels = "multicast_channels"
)

// Document is the raw state file. Unknown keys are preserved across updates.
type Document map[string]json.RawMessage

// ChannelRecord is a measured channel as stored under hotel_channels.
type ChannelRecord struct {
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	Speed      float64 `json:"speed"`
	Resolution string  `json:"resolution"`
	Source     string  `json:"source,omitempty"`
}

// MulticastGateway is one reachable udpxy gateway with its expanded channels.
type MulticastGateway struct {
	Speed float64           `json:"speed"`
	Data  map[string]string `json:"data"`
}

// serializes read-modify-write cycles within the process
var mu sync.Mutex

func defaults() Document {
	return Document{
		KeyHotel:         json.RawMessage("[]"),
		KeyHotelChannels: json.RawMessage("[]"),
	}
}

// Load reads path. A missing or invalid file yields the default document
// {"hotel":[],"hotel_channels":[]}.
func Load(path string) Document {
	if path == "" {
		return defaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults()
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil || d == nil {
		return defaults()
	}
	return d
}

// Update sets key to value and rewrites path atomically, keeping every other key.
func Update(path, key string, value any) error {
	return UpdateMany(path, map[string]any{key: value})
}

// UpdateMany is Update for several keys in one rewrite.
func UpdateMany(path string, values map[string]any) error {
	if path == "" {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	d := Load(path)
	for k, v := range values {
		raw, err := marshal(v)
		if err != nil {
			return fmt.Errorf("state: encode %s: %w", k, err)
		}
		d[k] = raw
	}
	data, err := marshal(d)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return writeAtomic(path, data)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteFile writes data to path through a temp file and rename, creating the parent directory.
func WriteFile(path string, data []byte) error {
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".iptv-scout-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("state: write: %w", writeErr)
		}
		return fmt.Errorf("state: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

func (d Document) decode(key string, v any) bool {
	raw, ok := d[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// HotelEndpoints returns the endpoints that answered a previous listing probe.
func (d Document) HotelEndpoints() []string {
	var out []string
	d.decode(KeyHotel, &out)
	return out
}

// HotelChannels returns the channels measured by the last hotel run.
func (d Document) HotelChannels() []channel.Channel {
	var recs []ChannelRecord
	if !d.decode(KeyHotelChannels, &recs) {
		return nil
	}
	out := make([]channel.Channel, 0, len(recs))
	for _, r := range recs {
		out = append(out, channel.Channel{
			Name:       r.Name,
			URL:        r.URL,
			SpeedMBps:  r.Speed,
			Resolution: channel.ParseResolution(r.Resolution),
			Source:     channel.Endpoint(r.Source),
		})
	}
	return out
}

// Multicast returns province -> reachable gateway URLs.
func (d Document) Multicast() map[string][]string {
	out := map[string][]string{}
	d.decode(KeyMulticast, &out)
	return out
}

// MulticastChannels returns gateway URL -> expanded channels.
func (d Document) MulticastChannels() map[string]MulticastGateway {
	out := map[string]MulticastGateway{}
	d.decode(KeyMulticastChannels, &out)
	return out
}

// Records converts measured channels to their stored form.
func Records(channels []channel.Channel) []ChannelRecord {
	out := make([]ChannelRecord, 0, len(channels))
	for _, c := range channels {
		out = append(out, ChannelRecord{
			Name:       c.Name,
			URL:        c.URL,
			Speed:      c.SpeedMBps,
			Resolution: c.Resolution.String(),
			Source:     string(c.Source),
		})
	}
	return out
}

// SetHotel replaces the hotel endpoint list.
func SetHotel(path string, endpoints []string) error {
	if endpoints == nil {
		endpoints = []string{}
	}
	return Update(path, KeyHotel, endpoints)
}

// SetHotelChannels replaces the stored hotel channel results.
func SetHotelChannels(path string, channels []channel.Channel) error {
	return Update(path, KeyHotelChannels, Records(channels))
}

// SetMulticast replaces the province -> gateway map.
func SetMulticast(path string, gateways map[string][]string) error {
	return Update(path, KeyMulticast, gateways)
}

// SetMulticastChannels replaces the gateway -> channels map.
func SetMulticastChannels(path string, channels map[string]MulticastGateway) error {
	return Update(path, KeyMulticastChannels, channels)
}
