// Package channel holds the value types that flow through a scouting run:
// endpoints discovered upstream, raw listing entries, measured channels,
// and the grouped playlist document rendered at the end.
package channel

import (
	"strconv"
	"strings"
)

// Endpoint is a candidate host: "host:port" or a URL base such as "http://host:port".
type Endpoint string

// BaseURL returns the endpoint as an http URL base without a trailing slash.
func (e Endpoint) BaseURL() string {
	s := strings.TrimSpace(string(e))
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	return s
}

// Host returns the endpoint without scheme, e.g. "1.2.3.4:8080".
func (e Endpoint) Host() string {
	s := e.BaseURL()
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Endpoints converts plain strings, dropping blanks and duplicates while keeping first-seen order.
func Endpoints(ss []string) []Endpoint {
	seen := make(map[string]struct{}, len(ss))
	out := make([]Endpoint, 0, len(ss))
	for _, s := range ss {
		e := Endpoint(strings.TrimSpace(s))
		key := e.Host()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// RawChannel is one entry as reported by a host's listing endpoint, after
// keyword filtering and name normalization.
type RawChannel struct {
	Name     string
	URL      string
	TypeHint string
	Source   Endpoint
}

// Resolution is a video frame size. The zero value means unknown (0x0).
type Resolution struct {
	Width  int
	Height int
}

// Known reports whether both dimensions are positive.
func (r Resolution) Known() bool { return r.Width > 0 && r.Height > 0 }

// Area is Width*Height, 0 when unknown.
func (r Resolution) Area() int {
	if !r.Known() {
		return 0
	}
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return strconv.Itoa(r.Width) + "x" + strconv.Itoa(r.Height)
}

// ParseResolution parses "WxH". Anything else yields the 0x0 sentinel.
func ParseResolution(s string) Resolution {
	w, h, ok := strings.Cut(strings.TrimSpace(strings.ToLower(s)), "x")
	if !ok {
		return Resolution{}
	}
	wi, err := strconv.Atoi(w)
	if err != nil || wi < 0 {
		return Resolution{}
	}
	hi, err := strconv.Atoi(h)
	if err != nil || hi < 0 {
		return Resolution{}
	}
	return Resolution{Width: wi, Height: hi}
}

// Channel is a RawChannel joined with sampler output.
type Channel struct {
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	SpeedMBps  float64    `json:"speed"`
	Resolution Resolution `json:"-"`
	Source     Endpoint   `json:"source,omitempty"`
}

// GroupName identifies a playlist bucket. The value is the header text written to the playlist.
type GroupName string

const (
	CentralChannels   GroupName = "中央频道"
	SatelliteChannels GroupName = "卫视频道"
	MovieChannels     GroupName = "影视剧场"
	Ungrouped         GroupName = "未分组"
)

// GroupOrder is the fixed render order.
var GroupOrder = []GroupName{CentralChannels, SatelliteChannels, MovieChannels, Ungrouped}

// Group is a named bucket of channels in sorted order.
type Group struct {
	Name     GroupName
	Channels []Channel
}

// PlaylistDocument is the ordered set of groups to render.
type PlaylistDocument struct {
	Groups []Group
}

// Len returns the number of channels across all groups.
func (d PlaylistDocument) Len() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Channels)
	}
	return n
}
