package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/history"
	"github.com/snapetech/iptvscout/internal/multicast"
	"github.com/snapetech/iptvscout/internal/normalize"
	"github.com/snapetech/iptvscout/internal/ranking"
	"github.com/snapetech/iptvscout/internal/state"
	"github.com/snapetech/iptvscout/internal/workpool"
)

// GatewayProber is satisfied by *multicast.Prober.
type GatewayProber interface {
	Probe(ctx context.Context, gateway string, templates []multicast.Template) []channel.RawChannel
}

// Multicast is the udpxy gateway run.
type Multicast struct {
	Prober       GatewayProber
	Sampler      StreamSampler
	Aggregator   *ranking.Aggregator
	Normalizer   *normalize.Normalizer // nil keeps template names as written
	TemplatesDir string
	// SampleAll measures every channel. Otherwise one channel per gateway is
	// measured and its speed is applied to the whole gateway.
	SampleAll         bool
	ProbeConcurrency  int // 0 = 8
	SampleConcurrency int // 0 = 16
	Output            Output
	Logger            zerolog.Logger
}

type gatewayResult struct {
	province string
	gateway  string
	channels []channel.RawChannel
}

// Run checks every gateway of every province against that province's templates.
// Provinces without a template file are skipped.
func (m *Multicast) Run(ctx context.Context, gateways map[string][]string) (Report, error) {
	start := time.Now()
	rep := Report{RunID: history.NewRunID()}
	log := m.Logger.With().Str("run", rep.RunID).Logger()

	provinces := make([]string, 0, len(gateways))
	for p := range gateways {
		provinces = append(provinces, p)
	}
	sort.Strings(provinces)

	type job struct {
		province  string
		gateway   string
		templates []multicast.Template
	}
	var jobs []job
	byProvince := make(map[string][]string)
	for _, p := range provinces {
		templates, err := multicast.LoadTemplates(m.TemplatesDir, p)
		if err != nil {
			log.Warn().Str("province", p).Err(err).Msg("skip province")
			continue
		}
		byProvince[p] = []string{}
		for _, gw := range gateways[p] {
			jobs = append(jobs, job{p, gw, templates})
		}
	}
	rep.Endpoints = len(jobs)

	results := workpool.Map(ctx, orDefault(m.ProbeConcurrency, 8), jobs, func(ctx context.Context, _ int, j job) gatewayResult {
		rcs := m.Prober.Probe(ctx, j.gateway, j.templates)
		status := "ok"
		if len(rcs) == 0 {
			status = "unreachable"
		}
		m.Output.Metrics.ObserveProbe(status)
		return gatewayResult{j.province, j.gateway, rcs}
	})

	var alive []gatewayResult
	for _, r := range results {
		if len(r.channels) == 0 {
			continue
		}
		if m.Normalizer != nil {
			for i := range r.channels {
				r.channels[i].Name = m.Normalizer.Normalize(r.channels[i].Name)
			}
		}
		alive = append(alive, r)
		byProvince[r.province] = append(byProvince[r.province], r.gateway)
	}
	rep.Responded = len(alive)
	log.Info().Int("gateways", len(jobs)).Int("alive", len(alive)).Msg("gateway check finished")

	channels := m.measure(ctx, alive, log)
	rep.Channels = len(channels)
	rep.Document = m.Aggregator.Aggregate(channels)
	if err := writePlaylists(rep.Document, m.Output); err != nil {
		return rep, err
	}
	rep.Rendered = countRendered(rep.Document, m.Output.threshold())

	if m.Output.StatePath != "" {
		if err := state.SetMulticastChannels(m.Output.StatePath, gatewayState(alive, channels)); err != nil {
			log.Error().Err(err).Msg("save multicast channels")
		}
		if err := state.SetMulticast(m.Output.StatePath, byProvince); err != nil {
			log.Error().Err(err).Msg("save multicast gateways")
		}
	}
	rep.Duration = time.Since(start)
	finish(ctx, "multicast", start, rep, channels, m.Output, log)
	return rep, nil
}

func (m *Multicast) measure(ctx context.Context, alive []gatewayResult, log zerolog.Logger) []channel.Channel {
	n := orDefault(m.SampleConcurrency, 16)
	if m.SampleAll {
		var raws []channel.RawChannel
		for _, r := range alive {
			raws = append(raws, r.channels...)
		}
		return sampleAll(ctx, m.Sampler, n, raws, m.Output.Metrics, log)
	}
	reps := make([]channel.RawChannel, len(alive))
	for i, r := range alive {
		reps[i] = r.channels[0]
	}
	measured := sampleAll(ctx, m.Sampler, n, reps, m.Output.Metrics, log)
	bySource := make(map[channel.Endpoint]channel.Channel, len(measured))
	for _, c := range measured {
		bySource[c.Source] = c
	}
	var out []channel.Channel
	for _, r := range alive {
		rep, ok := bySource[r.channels[0].Source]
		if !ok {
			continue
		}
		for _, rc := range r.channels {
			out = append(out, channel.Channel{
				Name:       rc.Name,
				URL:        rc.URL,
				SpeedMBps:  rep.SpeedMBps,
				Resolution: rep.Resolution,
				Source:     rc.Source,
			})
		}
	}
	return out
}

// gatewayState builds the multicast_channels value: gateway -> {speed, data{name: url}}.
// The gateway speed is the best speed measured on it.
func gatewayState(alive []gatewayResult, channels []channel.Channel) map[string]state.MulticastGateway {
	best := make(map[channel.Endpoint]float64)
	for _, c := range channels {
		if c.SpeedMBps > best[c.Source] {
			best[c.Source] = c.SpeedMBps
		}
	}
	out := make(map[string]state.MulticastGateway, len(alive))
	for _, r := range alive {
		data := make(map[string]string, len(r.channels))
		for _, rc := range r.channels {
			data[rc.Name] = rc.URL
		}
		out[r.gateway] = state.MulticastGateway{Speed: best[channel.Endpoint(r.gateway)], Data: data}
	}
	return out
}
