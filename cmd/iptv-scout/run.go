package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvscout/internal/discovery"
	"github.com/snapetech/iptvscout/internal/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		endpoints   []string
		noDiscovery bool
		output      string
		m3u         string
		strategy    string
		threshold   float64
	)
	c := &cobra.Command{
		Use:   "run",
		Short: "Discover hotel portals, sample their channels and write the ranked playlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("output") {
				a.cfg.OutputPath = output
			}
			if cmd.Flags().Changed("m3u") {
				a.cfg.M3UOutputPath = m3u
			}
			if cmd.Flags().Changed("strategy") {
				a.cfg.SampleStrategy = strategy
			}
			if cmd.Flags().Changed("threshold") {
				a.cfg.SpeedThreshold = threshold
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			var provider discovery.Provider
			if !noDiscovery {
				q, err := a.quake()
				if err != nil {
					return err
				}
				provider = q
			}
			p, err := a.listingProber()
			if err != nil {
				return err
			}
			out, closeOut, err := a.output(ctx, a.cfg.OutputPath, a.cfg.M3UOutputPath)
			if err != nil {
				return err
			}
			defer closeOut()

			candidates := pipeline.HotelCandidates(ctx, provider, pipeline.Seeds{
				StatePath: a.cfg.StatePath,
				History:   out.History,
				MinSpeed:  a.cfg.HistorySeedSpeed,
				Extra:     endpoints,
			}, a.log)
			if len(candidates) == 0 {
				return fmt.Errorf("no candidate endpoints: discovery returned none and %s has no known hosts", a.cfg.StatePath)
			}

			h := &pipeline.Hotel{
				Prober:            p,
				Sampler:           a.streamSampler(),
				Aggregator:        a.aggregator(),
				ProbeConcurrency:  a.cfg.ProbeConcurrency,
				SampleConcurrency: a.cfg.SampleConcurrency,
				Output:            out,
				Logger:            a.log,
			}
			rep, err := h.Run(ctx, candidates)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d channels written (%d sampled from %d/%d endpoints)\n",
				a.cfg.OutputPath, rep.Rendered, rep.Channels, rep.Responded, rep.Endpoints)
			return nil
		},
	}
	c.Flags().StringSliceVarP(&endpoints, "endpoint", "e", nil, "extra candidate endpoint host:port (repeatable)")
	c.Flags().BoolVar(&noDiscovery, "no-discovery", false, "skip the Quake search; use --endpoint, the state file and history only")
	c.Flags().StringVarP(&output, "output", "o", "", "playlist path (default from IPTV_SCOUT_OUTPUT or hotel.txt)")
	c.Flags().StringVar(&m3u, "m3u", "", "also write an extended M3U playlist to this path")
	c.Flags().StringVar(&strategy, "strategy", "", "sampling strategy: segment|window")
	c.Flags().Float64Var(&threshold, "threshold", 0, "minimum speed in MB/s for a channel to be written")
	return c
}
