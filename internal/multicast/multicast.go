// Package multicast expands per-province udpxy channel templates against
// gateways that answer their /status/ page.
package multicast

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/httpclient"
)

// StatusPath is the udpxy status page used as a liveness check.
const StatusPath = "/status/"

// Template is one "name,/rtp/ip:port" line of a province file.
type Template struct {
	Name string
	Path string
}

// ErrNoTemplates is returned by LoadTemplates when the province has no template file.
var ErrNoTemplates = errors.New("multicast: no template file")

// ParseTemplates reads "name,path" lines. Lines that do not split into exactly
// two non-empty fields are skipped.
func ParseTemplates(r io.Reader) ([]Template, error) {
	var out []Template
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Split(strings.TrimSpace(sc.Text()), ",")
		if len(fields) != 2 {
			continue
		}
		name, path := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		if name == "" || path == "" {
			continue
		}
		out = append(out, Template{Name: strings.TrimPrefix(name, "\ufeff"), Path: path})
	}
	return out, sc.Err()
}

// LoadTemplates reads dir/<province>.txt.
func LoadTemplates(dir, province string) ([]Template, error) {
	path := filepath.Join(dir, filepath.Base(province)+".txt")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoTemplates, path)
		}
		return nil, fmt.Errorf("multicast: %w", err)
	}
	defer f.Close()
	t, err := ParseTemplates(f)
	if err != nil {
		return nil, fmt.Errorf("multicast: read %s: %w", path, err)
	}
	return t, nil
}

type Options struct {
	Timeout time.Duration // status check; 0 = 3s
	HostSem *httpclient.HostSemaphore
	Logger  zerolog.Logger
}

// Prober checks gateways. Safe for concurrent use.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	sem     *httpclient.HostSemaphore
	log     zerolog.Logger
}

func New(client *http.Client, opts Options) *Prober {
	if client == nil {
		client = httpclient.Default()
	}
	p := &Prober{client: client, timeout: opts.Timeout, sem: opts.HostSem, log: opts.Logger}
	if p.timeout <= 0 {
		p.timeout = 3 * time.Second
	}
	return p
}

// Alive reports whether gateway answers its status page with 200.
func (p *Prober) Alive(ctx context.Context, gateway string) bool {
	base := channel.Endpoint(gateway).BaseURL()
	if base == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	release, err := p.sem.AcquireContext(ctx, base)
	if err != nil {
		return false
	}
	defer release()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+StatusPath, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug().Str("endpoint", gateway).Err(err).Msg("multicast: status failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		p.log.Debug().Str("endpoint", gateway).Int("status", resp.StatusCode).Msg("multicast: bad status")
		return false
	}
	return true
}

// Probe returns templates expanded against gateway, or nothing when the gateway is not alive.
func (p *Prober) Probe(ctx context.Context, gateway string, templates []Template) []channel.RawChannel {
	if len(templates) == 0 || !p.Alive(ctx, gateway) {
		return nil
	}
	return Expand(gateway, templates)
}

// Expand joins every template path onto gateway.
func Expand(gateway string, templates []Template) []channel.RawChannel {
	ep := channel.Endpoint(gateway)
	base := ep.BaseURL()
	out := make([]channel.RawChannel, 0, len(templates))
	for _, t := range templates {
		path := t.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		out = append(out, channel.RawChannel{Name: t.Name, URL: base + path, TypeHint: "multicast", Source: ep})
	}
	return out
}
