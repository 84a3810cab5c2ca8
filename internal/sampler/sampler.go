// Package sampler measures how fast a live channel actually delivers media.
//
// Two strategies are available. StrategySegment fetches the media playlist,
// asks for roughly two seconds of the first segment (sized from a HEAD
// Content-Length and the segment duration) and times the download.
// StrategyWindow streams each segment for a short window until an outer
// budget runs out and averages the per-segment rates. Raw transport streams
// (udpxy /rtp/ and /udp/ relays, or a playlist URL that answers with TS
// bytes) are always measured with a single window read.
//
// Sampling never fails: every error yields the zero Result (0 MB/s, 0x0).
package sampler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/rs/zerolog"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/httpclient"
	"github.com/snapetech/iptvscout/internal/tsprobe"
)

type Strategy string

const (
	StrategySegment Strategy = "segment"
	StrategyWindow  Strategy = "window"
)

const (
	defaultSegmentDuration = 10.0 // seconds, when #EXTINF has none
	targetSeconds          = 2.0  // playback seconds requested from the first segment
	maxPlaylistBytes       = 1 << 20
	maxSegmentBytes        = 64 << 20
	maxDecodeBytes         = 2 << 20
)

// Result is what one channel measured. The zero value means "no usable stream".
type Result struct {
	SpeedMBps  float64
	Resolution channel.Resolution
}

// ResolutionDecoder reads a frame size from the first bytes of a media segment.
type ResolutionDecoder interface {
	DecodeResolution(data []byte) (channel.Resolution, bool)
}

type Options struct {
	Strategy       Strategy      // "" = StrategySegment
	RequestTimeout time.Duration // playlist, HEAD and segment requests; 0 = 2s
	Window         time.Duration // per-segment streaming window; 0 = 2s
	Budget         time.Duration // whole sample; 0 = 10s
	Decoder        ResolutionDecoder
	HostSem        *httpclient.HostSemaphore
	Logger         zerolog.Logger
}

// Sampler is safe for concurrent use.
type Sampler struct {
	client   *http.Client
	strategy Strategy
	reqTO    time.Duration
	window   time.Duration
	budget   time.Duration
	decoder  ResolutionDecoder
	sem      *httpclient.HostSemaphore
	log      zerolog.Logger
}

func New(client *http.Client, opts Options) *Sampler {
	if client == nil {
		client = httpclient.Default()
	}
	s := &Sampler{
		client:   client,
		strategy: opts.Strategy,
		reqTO:    opts.RequestTimeout,
		window:   opts.Window,
		budget:   opts.Budget,
		decoder:  opts.Decoder,
		sem:      opts.HostSem,
		log:      opts.Logger,
	}
	if s.strategy == "" {
		s.strategy = StrategySegment
	}
	if s.reqTO <= 0 {
		s.reqTO = 2 * time.Second
	}
	if s.window <= 0 {
		s.window = 2 * time.Second
	}
	if s.budget <= 0 {
		s.budget = 10 * time.Second
	}
	if s.decoder == nil {
		s.decoder = tsprobe.Decoder{}
	}
	return s
}

var (
	errStatus    = errors.New("unexpected status")
	errNoSegment = errors.New("playlist has no segments")
	errNoData    = errors.New("no data received")
)

// Sample measures streamURL. It never returns an error; failures are logged at debug.
func (s *Sampler) Sample(ctx context.Context, streamURL string) Result {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()
	release, err := s.sem.AcquireContext(ctx, streamURL)
	if err != nil {
		return Result{}
	}
	defer release()

	res, err := s.sample(ctx, streamURL)
	if err != nil {
		s.log.Debug().Str("url", streamURL).Err(err).Msg("sample failed")
		return Result{}
	}
	res.SpeedMBps = Round2(res.SpeedMBps)
	return res
}

func (s *Sampler) sample(ctx context.Context, streamURL string) (Result, error) {
	if IsRawStream(streamURL) {
		return s.windowRead(ctx, streamURL, s.window)
	}
	pl, base, raw, err := s.fetchPlaylist(ctx, streamURL, true)
	if err != nil {
		return Result{}, err
	}
	if raw != nil {
		return *raw, nil
	}
	segs := segmentsOf(pl)
	if len(segs) == 0 {
		return Result{}, errNoSegment
	}
	if s.strategy == StrategyWindow {
		return s.windowSegments(ctx, base, segs)
	}
	return s.probeSegment(ctx, resolve(base, segs[0].URI), segs[0].Duration)
}

// fetchPlaylist returns the decoded media playlist and its URL. A master playlist is
// followed to its first variant once. If the URL serves TS bytes instead of a playlist,
// the response is measured in place and returned as raw.
func (s *Sampler) fetchPlaylist(ctx context.Context, u string, followMaster bool) (*m3u8.MediaPlaylist, *url.URL, *Result, error) {
	base, err := url.Parse(u)
	if err != nil {
		return nil, nil, nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, s.reqTO)
	defer cancel()
	start := time.Now()
	resp, err := s.get(rctx, u, "")
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	br := bufio.NewReader(io.LimitReader(resp.Body, maxPlaylistBytes))
	if b, err := br.Peek(1); err == nil && b[0] == 0x47 {
		res, err := s.measure(rctx, br, start)
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, nil, &res, nil
	}
	p, listType, err := m3u8.DecodeFrom(br, false)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode playlist: %w", err)
	}
	switch listType {
	case m3u8.MEDIA:
		return p.(*m3u8.MediaPlaylist), base, nil, nil
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		if !followMaster {
			return nil, nil, nil, errors.New("nested master playlist")
		}
		for _, v := range master.Variants {
			if v != nil && v.URI != "" {
				cancel()
				return s.fetchPlaylist(ctx, resolve(base, v.URI), false)
			}
		}
		return nil, nil, nil, errors.New("master playlist has no variants")
	}
	return nil, nil, nil, errors.New("unknown playlist type")
}

func segmentsOf(pl *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	var out []*m3u8.MediaSegment
	for _, seg := range pl.Segments {
		if seg == nil {
			break
		}
		if seg.URI != "" {
			out = append(out, seg)
		}
	}
	return out
}

// probeSegment requests about targetSeconds of playback from segURL and times it,
// HEAD included. The request timeout bounds the wait for headers and each gap
// between reads; the transfer itself may run until the sample budget on ctx.
func (s *Sampler) probeSegment(ctx context.Context, segURL string, duration float64) (Result, error) {
	if duration <= 0 {
		duration = defaultSegmentDuration
	}
	start := time.Now()
	rangeHdr := ""
	if size := s.headSize(ctx, segURL); size > 0 {
		if want := int64(float64(size) * (targetSeconds / duration)); want > 0 {
			rangeHdr = fmt.Sprintf("bytes=0-%d", want-1)
		}
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	idle := time.AfterFunc(s.reqTO, cancel)
	defer idle.Stop()

	resp, err := s.get(rctx, segURL, rangeHdr)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body := &stallReader{r: io.LimitReader(resp.Body, maxSegmentBytes), timer: idle, idle: s.reqTO}
	return s.measure(rctx, body, start)
}

// stallReader pushes its timer back whenever bytes arrive, so the timer only
// fires after a read gap longer than idle.
type stallReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.timer.Reset(s.idle)
	}
	return n, err
}

// headSize returns the Content-Length reported by HEAD, or 0 when HEAD fails.
func (s *Sampler) headSize(ctx context.Context, segURL string) int64 {
	rctx, cancel := context.WithTimeout(ctx, s.reqTO)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodHead, segURL, nil)
	if err != nil {
		return 0
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0
	}
	return resp.ContentLength
}

// windowSegments streams segments in playlist order, each for at most the window,
// until the budget on ctx runs out. Speed is the mean over segments that delivered data.
func (s *Sampler) windowSegments(ctx context.Context, base *url.URL, segs []*m3u8.MediaSegment) (Result, error) {
	var (
		sum   float64
		n     int
		res   channel.Resolution
		first error
	)
	for _, seg := range segs {
		if ctx.Err() != nil {
			break
		}
		r, err := s.windowRead(ctx, resolve(base, seg.URI), s.window)
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		sum += r.SpeedMBps
		n++
		if !res.Known() {
			res = r.Resolution
		}
	}
	if n == 0 {
		if first == nil {
			first = errNoData
		}
		return Result{}, first
	}
	return Result{SpeedMBps: sum / float64(n), Resolution: res}, nil
}

// windowRead streams u for at most window and reports the observed rate.
func (s *Sampler) windowRead(ctx context.Context, u string, window time.Duration) (Result, error) {
	wctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	start := time.Now()
	resp, err := s.get(wctx, u, "")
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	return s.measure(wctx, resp.Body, start)
}

// measure drains r until EOF or until ctx expires. Running out of time after some
// bytes arrived is the normal end of a window, not an error.
func (s *Sampler) measure(ctx context.Context, r io.Reader, start time.Time) (Result, error) {
	var (
		n    int64
		head []byte
	)
	buf := make([]byte, 32<<10)
	for {
		k, err := r.Read(buf)
		if k > 0 {
			n += int64(k)
			if room := maxDecodeBytes - len(head); room > 0 {
				head = append(head, buf[:min(k, room)]...)
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || (ctx.Err() != nil && n > 0) {
			break
		}
		return Result{}, err
	}
	if n == 0 {
		return Result{}, errNoData
	}
	return Result{SpeedMBps: speed(n, time.Since(start)), Resolution: s.decode(head)}, nil
}

func (s *Sampler) get(ctx context.Context, u, rangeHdr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if rangeHdr != "" {
		req.Header.Set("Range", rangeHdr)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
	}
	return resp, nil
}

func (s *Sampler) decode(data []byte) channel.Resolution {
	if r, ok := s.decoder.DecodeResolution(data); ok {
		return r
	}
	return channel.Resolution{}
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

func speed(n int64, elapsed time.Duration) float64 {
	sec := elapsed.Seconds()
	if sec <= 0 {
		return 0
	}
	return float64(n) / (1024 * 1024) / sec
}

// Round2 rounds to two decimals, the precision speeds are persisted and compared at.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// IsRawStream reports whether u is a udpxy relay of a multicast group rather than an HLS playlist.
func IsRawStream(u string) bool {
	p, err := url.Parse(u)
	if err != nil {
		return false
	}
	return strings.HasPrefix(p.Path, "/rtp/") || strings.HasPrefix(p.Path, "/udp/")
}
