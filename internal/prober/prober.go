// Package prober queries hotel IPTV portals for their live-channel listing.
//
// A portal answers GET /iptv/live/1000.json?key=txiptv with
// {"data":[{"name":..,"url":..,"typename":..}]}. Every failure degrades to
// "this endpoint contributed zero channels"; nothing here returns an error.
package prober

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/httpclient"
	"github.com/snapetech/iptvscout/internal/normalize"
	"github.com/snapetech/iptvscout/internal/safeurl"
)

// ListingPath is the fixed channel-listing path on every hotel portal.
const ListingPath = "/iptv/live/1000.json?key=txiptv"

// DefaultFilterKeywords drop an entry whose uppercased name contains any of them.
var DefaultFilterKeywords = []string{"4K", "测试", "奥林匹克", "NEWS", "台球", "网球", "足球", "指南", "教育", "高尔夫"}

// Portals built from one firmware image list Jiangsu Satellite under a broken name.
const (
	jiangsuPath = "/tsfile/live/1015_1.m3u8?key=txiptv&playlive=1&authid=0"
	jiangsuName = "江苏卫视"
)

const maxListingBytes = 4 << 20

type Status string

const (
	StatusOK        Status = "ok"
	StatusBadStatus Status = "bad_status"
	StatusTimeout   Status = "timeout"
	StatusMalformed Status = "malformed"
	StatusError     Status = "error"
)

// Result is the outcome of probing one endpoint.
type Result struct {
	Endpoint   channel.Endpoint
	Status     Status
	StatusCode int
	LatencyMs  int64
	// Responded is true when the body was a JSON object with a "data" key, even if no
	// entry survived filtering. Such endpoints are remembered as known-good hosts.
	Responded bool
	Channels  []channel.RawChannel
}

type Options struct {
	Timeout        time.Duration // per listing request; 0 = 2s
	FilterKeywords []string      // nil = DefaultFilterKeywords
	Normalizer     *normalize.Normalizer
	HostSem        *httpclient.HostSemaphore
	Logger         zerolog.Logger
}

// Prober fetches and cleans channel listings. Safe for concurrent use.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	filter  []string
	norm    *normalize.Normalizer
	sem     *httpclient.HostSemaphore
	log     zerolog.Logger
}

func New(client *http.Client, opts Options) *Prober {
	if client == nil {
		client = httpclient.Default()
	}
	p := &Prober{
		client:  client,
		timeout: opts.Timeout,
		filter:  opts.FilterKeywords,
		norm:    opts.Normalizer,
		sem:     opts.HostSem,
		log:     opts.Logger,
	}
	if p.timeout <= 0 {
		p.timeout = 2 * time.Second
	}
	if p.filter == nil {
		p.filter = DefaultFilterKeywords
	}
	if p.norm == nil {
		p.norm = normalize.MustNew(normalize.DefaultRules())
	}
	return p
}

// Probe returns the cleaned channels listed by ep, in listing order. Empty on any failure.
func (p *Prober) Probe(ctx context.Context, ep channel.Endpoint) []channel.RawChannel {
	return p.ProbeEndpoint(ctx, ep).Channels
}

// ProbeEndpoint fetches the listing of ep with a bounded timeout and classifies the result.
func (p *Prober) ProbeEndpoint(ctx context.Context, ep channel.Endpoint) Result {
	res := Result{Endpoint: ep, Status: StatusError}
	base := ep.BaseURL()
	if base == "" {
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	release, err := p.sem.AcquireContext(ctx, base)
	if err != nil {
		res.Status = StatusTimeout
		return res
	}
	defer release()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+ListingPath, nil)
	if err != nil {
		p.log.Debug().Str("endpoint", string(ep)).Err(err).Msg("probe: bad request")
		return res
	}
	resp, err := p.client.Do(req)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = classifyErr(err)
		p.log.Debug().Str("endpoint", string(ep)).Err(err).Msg("probe: request failed")
		return res
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Status = StatusBadStatus
		p.log.Debug().Str("endpoint", string(ep)).Int("status", resp.StatusCode).Msg("probe: bad status")
		return res
	}

	body, err := readBody(resp)
	if err != nil {
		res.Status = classifyErr(err)
		p.log.Debug().Str("endpoint", string(ep)).Err(err).Msg("probe: read body")
		return res
	}
	entries, ok := decodeListing(body)
	if !ok {
		res.Status = StatusMalformed
		p.log.Debug().Str("endpoint", string(ep)).Msg("probe: no data array in listing")
		return res
	}
	res.Status = StatusOK
	res.Responded = true
	res.Channels = p.clean(ep, base, entries)
	p.log.Debug().Str("endpoint", string(ep)).Int("listed", len(entries)).Int("kept", len(res.Channels)).Msg("probe: ok")
	return res
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, err
	}
	return toUTF8(body, resp.Header.Get("Content-Type")), nil
}

// toUTF8 decodes body using the Content-Type charset. Without one, invalid UTF-8 is
// read as GB18030; several portals still serve GBK without saying so.
func toUTF8(body []byte, contentType string) []byte {
	_, params, _ := mime.ParseMediaType(contentType)
	label := params["charset"]
	if label == "" {
		if utf8.Valid(body) {
			return body
		}
		label = "gb18030"
	}
	enc, name := charset.Lookup(label)
	if enc == nil || name == "utf-8" {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}

type listingEntry struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	TypeName string `json:"typename"`
}

// decodeListing returns the entries of the "data" array. ok is false when the body is not a
// JSON object with a "data" key; entries that are not objects of strings are skipped.
func decodeListing(body []byte) (entries []listingEntry, ok bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, false
	}
	data, ok := top["data"]
	if !ok {
		return nil, false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, true
	}
	entries = make([]listingEntry, 0, len(raw))
	for _, r := range raw {
		var e listingEntry
		if err := json.Unmarshal(r, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, true
}

func (p *Prober) clean(ep channel.Endpoint, base string, entries []listingEntry) []channel.RawChannel {
	out := make([]channel.RawChannel, 0, len(entries))
	for _, e := range entries {
		name := strings.ToUpper(e.Name)
		if p.filtered(name) || strings.TrimSpace(e.URL) == "" {
			continue
		}
		name = p.norm.Normalize(name)
		u := JoinURL(base, e.URL)
		if strings.Contains(u, jiangsuPath) {
			name = jiangsuName
		}
		if !safeurl.IsProbeable(u) {
			continue
		}
		out = append(out, channel.RawChannel{Name: name, URL: u, TypeHint: e.TypeName, Source: ep})
	}
	return out
}

func (p *Prober) filtered(upper string) bool {
	for _, k := range p.filter {
		if k != "" && strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

// JoinURL joins a listing path onto base. Entries that already carry a scheme are kept as-is
// so the scheme check can reject udp:// and rtp:// addresses.
func JoinURL(base, path string) string {
	path = strings.TrimSpace(path)
	if u, err := url.Parse(path); err == nil && u.Scheme != "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(base, "/") + path
}

func classifyErr(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout") {
		return StatusTimeout
	}
	return StatusError
}
