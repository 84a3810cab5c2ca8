package main

import (
	"github.com/spf13/cobra"

	"github.com/snapetech/iptvscout/internal/metrics"
	"github.com/snapetech/iptvscout/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the last run's playlists, state file and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.ListenAddr = addr
			}
			s := &server.Server{
				Addr:        a.cfg.ListenAddr,
				StatePath:   a.cfg.StatePath,
				StateMaxAge: a.cfg.StateMaxAge,
				Aggregator:  a.aggregator(),
				Threshold:   a.cfg.SpeedThreshold,
				Metrics:     metrics.New(),
				Logger:      a.log,
			}
			return s.Run(cmd.Context())
		},
	}
	c.Flags().StringVar(&addr, "addr", "", "listen address (default from IPTV_SCOUT_LISTEN or :8080)")
	return c
}
