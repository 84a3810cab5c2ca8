package main

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvscout/internal/config"
	"github.com/snapetech/iptvscout/internal/discovery"
	"github.com/snapetech/iptvscout/internal/history"
	"github.com/snapetech/iptvscout/internal/httpclient"
	"github.com/snapetech/iptvscout/internal/metrics"
	"github.com/snapetech/iptvscout/internal/multicast"
	"github.com/snapetech/iptvscout/internal/normalize"
	"github.com/snapetech/iptvscout/internal/pipeline"
	"github.com/snapetech/iptvscout/internal/prober"
	"github.com/snapetech/iptvscout/internal/ranking"
	"github.com/snapetech/iptvscout/internal/sampler"
)

// app carries what PersistentPreRunE loaded into every subcommand.
type app struct {
	cfg   *config.Config
	rules config.RulesFile
	log   zerolog.Logger

	client  *http.Client
	hostSem *httpclient.HostSemaphore
}

// shared returns the shared client and per-host semaphore, built once per process.
func (a *app) shared() (*http.Client, *httpclient.HostSemaphore) {
	if a.client == nil {
		a.client = httpclient.New(httpclient.Options{RequestsPerSecond: a.cfg.RequestsPerSecond})
		a.hostSem = httpclient.NewHostSemaphore(a.cfg.HostConcurrency)
	}
	return a.client, a.hostSem
}

func (a *app) normalizer() (*normalize.Normalizer, error) {
	return normalize.New(a.rules.NormalizeRules())
}

func (a *app) listingProber() (*prober.Prober, error) {
	n, err := a.normalizer()
	if err != nil {
		return nil, err
	}
	client, sem := a.shared()
	filter := append(append([]string(nil), prober.DefaultFilterKeywords...), a.rules.FilterKeywords...)
	return prober.New(client, prober.Options{
		Timeout:        a.cfg.ProbeTimeout,
		FilterKeywords: filter,
		Normalizer:     n,
		HostSem:        sem,
		Logger:         a.log,
	}), nil
}

func (a *app) streamSampler() *sampler.Sampler {
	client, sem := a.shared()
	return sampler.New(client, sampler.Options{
		Strategy:       sampler.Strategy(a.cfg.SampleStrategy),
		RequestTimeout: a.cfg.SegmentTimeout,
		Window:         a.cfg.WindowDuration,
		Budget:         a.cfg.SampleBudget,
		HostSem:        sem,
		Logger:         a.log,
	})
}

func (a *app) gatewayProber() *multicast.Prober {
	client, sem := a.shared()
	return multicast.New(client, multicast.Options{
		Timeout: a.cfg.GatewayTimeout,
		HostSem: sem,
		Logger:  a.log,
	})
}

func (a *app) aggregator() *ranking.Aggregator {
	return ranking.New(ranking.Policy{
		SortByResolution: a.cfg.SortByResolution,
		ExtraKeywords:    a.rules.ExtraGroupKeywords(),
	})
}

// quake builds the discovery provider on the run's shared client; each query is
// bounded by DiscoveryTimeout. It fails with discovery.ErrMissingToken when no token is set.
func (a *app) quake() (*discovery.Quake, error) {
	client, _ := a.shared()
	return discovery.NewQuake(client, discovery.QuakeOptions{
		URL:         a.cfg.QuakeURL,
		Token:       a.cfg.QuakeToken,
		HotelSize:   a.cfg.HotelSize,
		GatewaySize: a.cfg.GatewaySize,
		RPS:         a.cfg.DiscoveryRPS,
		Timeout:     a.cfg.DiscoveryTimeout,
		Logger:      a.log,
	})
}

// output opens history (when configured) and builds the run's output settings.
// The returned close func releases the history database.
func (a *app) output(ctx context.Context, playlist, m3u string) (pipeline.Output, func(), error) {
	store, err := history.Open(ctx, a.cfg.HistoryDB)
	if err != nil {
		return pipeline.Output{}, nil, err
	}
	return pipeline.Output{
		Playlist:    playlist,
		M3U:         m3u,
		StatePath:   a.cfg.StatePath,
		MetricsFile: a.cfg.MetricsFile,
		Threshold:   a.cfg.SpeedThreshold,
		History:     store,
		Metrics:     metrics.New(),
	}, func() { store.Close() }, nil
}
