// Package discovery finds candidate hotel portals and udpxy gateways through
// the 360 Quake search API.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/snapetech/iptvscout/internal/httpclient"
)

// ErrMissingToken means no Quake API token was configured.
var ErrMissingToken = errors.New("discovery: quake token not set (IPTV_SCOUT_QUAKE_TOKEN or TOKEN_360)")

const (
	DefaultURL = "https://quake.360.net/api/v3/search/quake_service"

	// HotelQuery matches the two favicons served by hotel IPTV portals.
	HotelQuery = `((favicon:"6e6e3db0140929429db13ed41a2449cb" OR favicon:"34f5abfd228a8e5577e7f2c984603144" )) AND country_cn: "中国"`

	// excludes honeypot-flagged results
	shortcut = "610ce2adb1a2e3e1632e67b1"
)

// GatewayQuery returns the udpxy query for one province and ISP (without the 中国 prefix).
func GatewayQuery(city, isp string) string {
	return fmt.Sprintf(`((country: "china" AND app:"udpxy") AND province_cn: "%s") AND isp: "中国%s"`, city, isp)
}

// Provider yields candidate endpoints.
type Provider interface {
	// Hotel returns "ip:port" hotel portal candidates.
	Hotel(ctx context.Context) ([]string, error)
	// Gateways returns "<city><isp>" -> gateway base URLs.
	Gateways(ctx context.Context, cities, isps []string) (map[string][]string, error)
}

type QuakeOptions struct {
	URL         string
	Token       string
	HotelSize   int           // 0 = 10
	GatewaySize int           // 0 = 20
	RPS         int           // queries per second; 0 = 1
	Timeout     time.Duration // per query; 0 = 10s
	Retry       *httpclient.RetryPolicy
	Logger      zerolog.Logger
}

// Quake queries the Quake service search endpoint.
type Quake struct {
	client *http.Client
	opts   QuakeOptions
	limit  ratelimit.Limiter
	retry  httpclient.RetryPolicy
	log    zerolog.Logger
}

// NewQuake returns ErrMissingToken when opts.Token is empty.
func NewQuake(client *http.Client, opts QuakeOptions) (*Quake, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrMissingToken
	}
	if client == nil {
		client = httpclient.Default()
	}
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.HotelSize <= 0 {
		opts.HotelSize = 10
	}
	if opts.GatewaySize <= 0 {
		opts.GatewaySize = 20
	}
	if opts.RPS <= 0 {
		opts.RPS = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	retry := httpclient.DefaultRetryPolicy
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &Quake{
		client: client,
		opts:   opts,
		limit:  ratelimit.New(opts.RPS),
		retry:  retry,
		log:    opts.Logger,
	}, nil
}

type searchRequest struct {
	Query       string   `json:"query"`
	Start       int      `json:"start"`
	Size        int      `json:"size"`
	IgnoreCache bool     `json:"ignore_cache"`
	Latest      bool     `json:"latest"`
	Shortcuts   []string `json:"shortcuts"`
}

type searchResponse struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    []struct {
		IP   string      `json:"ip"`
		Port json.Number `json:"port"`
	} `json:"data"`
}

// Search runs one query and returns "ip:port" for every result that has both fields.
func (q *Quake) Search(ctx context.Context, query string, size int) ([]string, error) {
	body, err := json.Marshal(searchRequest{
		Query:     query,
		Size:      size,
		Latest:    true,
		Shortcuts: []string{shortcut},
	})
	if err != nil {
		return nil, err
	}
	q.limit.Take()
	ctx, cancel := context.WithTimeout(ctx, q.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-QuakeToken", q.opts.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpclient.DoWithRetry(ctx, q.client, req, q.retry)
	if err != nil {
		return nil, fmt.Errorf("quake: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quake: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("quake: read: %w", err)
	}
	var sr searchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("quake: decode: %w", err)
	}
	if code := strings.Trim(string(sr.Code), `"`); code != "" && code != "0" {
		return nil, fmt.Errorf("quake: code %s: %s", code, sr.Message)
	}
	out := make([]string, 0, len(sr.Data))
	for _, d := range sr.Data {
		if d.IP == "" || d.Port == "" || d.Port == "0" {
			continue
		}
		out = append(out, d.IP+":"+d.Port.String())
	}
	return out, nil
}

// Hotel runs HotelQuery.
func (q *Quake) Hotel(ctx context.Context) ([]string, error) {
	eps, err := q.Search(ctx, HotelQuery, q.opts.HotelSize)
	if err != nil {
		return nil, err
	}
	q.log.Info().Int("count", len(eps)).Msg("discovery: hotel candidates")
	return eps, nil
}

// Gateways runs one udpxy query per city and ISP. A failed query is logged and
// skipped; only cancellation of ctx is returned as an error.
func (q *Quake) Gateways(ctx context.Context, cities, isps []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, city := range cities {
		for _, isp := range isps {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			hosts, err := q.Search(ctx, GatewayQuery(city, isp), q.opts.GatewaySize)
			if err != nil {
				q.log.Warn().Str("city", city).Str("isp", isp).Err(err).Msg("discovery: gateway query failed")
				continue
			}
			if len(hosts) == 0 {
				continue
			}
			urls := make([]string, len(hosts))
			for i, h := range hosts {
				urls[i] = "http://" + h
			}
			out[city+isp] = urls
			q.log.Info().Str("city", city).Str("isp", isp).Int("count", len(urls)).Msg("discovery: gateways")
		}
	}
	return out, nil
}

// Static serves fixed candidates. Used for flags and tests.
type Static struct {
	HotelEndpoints []string
	GatewayMap     map[string][]string
}

func (s Static) Hotel(context.Context) ([]string, error) {
	return append([]string(nil), s.HotelEndpoints...), nil
}

// Gateways returns the configured map filtered to cities×isps; empty filters return everything.
func (s Static) Gateways(_ context.Context, cities, isps []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(cities) == 0 || len(isps) == 0 {
		for k, v := range s.GatewayMap {
			out[k] = append([]string(nil), v...)
		}
		return out, nil
	}
	for _, c := range cities {
		for _, i := range isps {
			if v, ok := s.GatewayMap[c+i]; ok {
				out[c+i] = append([]string(nil), v...)
			}
		}
	}
	return out, nil
}
