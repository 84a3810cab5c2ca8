// Package pipeline wires discovery output through probing, sampling and
// ranking into the rendered playlists and the state file.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/history"
	"github.com/snapetech/iptvscout/internal/metrics"
	"github.com/snapetech/iptvscout/internal/prober"
	"github.com/snapetech/iptvscout/internal/ranking"
	"github.com/snapetech/iptvscout/internal/sampler"
	"github.com/snapetech/iptvscout/internal/state"
	"github.com/snapetech/iptvscout/internal/workpool"
)

// ListingProber is satisfied by *prober.Prober.
type ListingProber interface {
	ProbeEndpoint(ctx context.Context, ep channel.Endpoint) prober.Result
}

// StreamSampler is satisfied by *sampler.Sampler.
type StreamSampler interface {
	Sample(ctx context.Context, streamURL string) sampler.Result
}

// Output says where a run writes its results. Empty paths are skipped.
type Output struct {
	Playlist    string // genre txt playlist
	M3U         string
	StatePath   string
	MetricsFile string
	Threshold   float64 // 0 = ranking.DefaultThreshold
	History     *history.Store
	Metrics     *metrics.Metrics
}

func (o Output) threshold() float64 {
	if o.Threshold <= 0 {
		return ranking.DefaultThreshold
	}
	return o.Threshold
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Endpoints int // candidates after dedup
	Responded int // endpoints that answered (hotel) or passed the status check (multicast)
	Channels  int // channels sampled
	Rendered  int // channels above threshold
	Duration  time.Duration
	Document  channel.PlaylistDocument
}

// Hotel is the hotel-portal run.
type Hotel struct {
	Prober            ListingProber
	Sampler           StreamSampler
	Aggregator        *ranking.Aggregator
	ProbeConcurrency  int // 0 = 8
	SampleConcurrency int // 0 = 16
	Output            Output
	Logger            zerolog.Logger
}

// Run probes every endpoint, samples every surviving channel and writes the
// outputs. Unreachable hosts and failed samples only shrink the result; the
// error is reserved for outputs that could not be written.
func (h *Hotel) Run(ctx context.Context, endpoints []channel.Endpoint) (Report, error) {
	start := time.Now()
	rep := Report{RunID: history.NewRunID()}
	log := h.Logger.With().Str("run", rep.RunID).Logger()

	eps := dedupEndpoints(endpoints)
	rep.Endpoints = len(eps)
	log.Info().Int("endpoints", len(eps)).Msg("probing endpoints")

	results := workpool.Map(ctx, orDefault(h.ProbeConcurrency, 8), eps, func(ctx context.Context, _ int, ep channel.Endpoint) prober.Result {
		r := h.Prober.ProbeEndpoint(ctx, ep)
		h.Output.Metrics.ObserveProbe(string(r.Status))
		return r
	})
	var raws []channel.RawChannel
	responded := []string{}
	for _, r := range results {
		if r.Responded {
			responded = append(responded, string(r.Endpoint))
		}
		raws = append(raws, r.Channels...)
	}
	rep.Responded = len(responded)
	log.Info().Int("responded", len(responded)).Int("channels", len(raws)).Msg("probe finished")

	channels := sampleAll(ctx, h.Sampler, orDefault(h.SampleConcurrency, 16), raws, h.Output.Metrics, log)
	rep.Channels = len(channels)
	rep.Document = h.Aggregator.Aggregate(channels)

	if err := writePlaylists(rep.Document, h.Output); err != nil {
		return rep, err
	}
	rep.Rendered = countRendered(rep.Document, h.Output.threshold())

	if h.Output.StatePath != "" {
		if err := state.SetHotel(h.Output.StatePath, responded); err != nil {
			log.Error().Err(err).Msg("save hotel endpoints")
		}
		if err := state.SetHotelChannels(h.Output.StatePath, channels); err != nil {
			log.Error().Err(err).Msg("save hotel channels")
		}
	}
	rep.Duration = time.Since(start)
	finish(ctx, "hotel", start, rep, channels, h.Output, log)
	return rep, nil
}

// sampleAll measures every raw channel and logs one progress line each.
func sampleAll(ctx context.Context, s StreamSampler, n int, raws []channel.RawChannel, m *metrics.Metrics, log zerolog.Logger) []channel.Channel {
	total := len(raws)
	var done int64
	sampled := workpool.Map(ctx, n, raws, func(ctx context.Context, _ int, rc channel.RawChannel) channel.Channel {
		res := s.Sample(ctx, rc.URL)
		m.ObserveSample(res.SpeedMBps)
		i := atomic.AddInt64(&done, 1)
		log.Info().
			Str("name", rc.Name).
			Float64("speed", res.SpeedMBps).
			Str("resolution", res.Resolution.String()).
			Msgf("%d/%d %s - %s MB/s - %s", i, total, rc.Name, ranking.FormatSpeed(res.SpeedMBps), res.Resolution)
		return channel.Channel{
			Name:       rc.Name,
			URL:        rc.URL,
			SpeedMBps:  res.SpeedMBps,
			Resolution: res.Resolution,
			Source:     rc.Source,
		}
	})
	out := sampled[:0]
	for _, c := range sampled {
		// slots of tasks skipped after cancellation stay zero
		if c.URL != "" {
			out = append(out, c)
		}
	}
	return out
}

func writePlaylists(doc channel.PlaylistDocument, o Output) error {
	if o.Playlist != "" {
		var buf bytes.Buffer
		if err := ranking.Render(&buf, doc, o.threshold()); err != nil {
			return fmt.Errorf("render playlist: %w", err)
		}
		if err := state.WriteFile(o.Playlist, buf.Bytes()); err != nil {
			return fmt.Errorf("write playlist %s: %w", o.Playlist, err)
		}
	}
	if o.M3U != "" {
		var buf bytes.Buffer
		if err := ranking.RenderM3U(&buf, doc, o.threshold()); err != nil {
			return fmt.Errorf("render m3u: %w", err)
		}
		if err := state.WriteFile(o.M3U, buf.Bytes()); err != nil {
			return fmt.Errorf("write m3u %s: %w", o.M3U, err)
		}
	}
	return nil
}

// finish records history and metrics. Failures are logged only.
func finish(ctx context.Context, kind string, start time.Time, rep Report, channels []channel.Channel, o Output, log zerolog.Logger) {
	run := history.Run{
		ID:         rep.RunID,
		Kind:       kind,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Endpoints:  rep.Endpoints,
		Rendered:   rep.Rendered,
	}
	if err := o.History.RecordRun(context.WithoutCancel(ctx), run, channels); err != nil {
		log.Error().Err(err).Msg("record history")
	}
	o.Metrics.SetRendered(rep.Document, o.threshold())
	if err := o.Metrics.WriteTextfile(o.MetricsFile); err != nil {
		log.Error().Err(err).Str("path", o.MetricsFile).Msg("write metrics textfile")
	}
	log.Info().
		Int("endpoints", rep.Endpoints).
		Int("responded", rep.Responded).
		Int("channels", rep.Channels).
		Int("rendered", rep.Rendered).
		Dur("took", rep.Duration).
		Msg(kind + " run finished")
}

func countRendered(doc channel.PlaylistDocument, threshold float64) int {
	n := 0
	for _, g := range doc.Groups {
		for _, c := range g.Channels {
			if ranking.Passes(c.SpeedMBps, threshold) {
				n++
			}
		}
	}
	return n
}

func dedupEndpoints(eps []channel.Endpoint) []channel.Endpoint {
	ss := make([]string, len(eps))
	for i, e := range eps {
		ss[i] = string(e)
	}
	return channel.Endpoints(ss)
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
