package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/prober"
)

func newProbeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <host:port>",
		Short: "Print the cleaned channel listing of one hotel portal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.listingProber()
			if err != nil {
				return err
			}
			res := p.ProbeEndpoint(cmd.Context(), channel.Endpoint(args[0]))
			w := cmd.OutOrStdout()
			for _, c := range res.Channels {
				fmt.Fprintf(w, "%s,%s\n", c.Name, c.URL)
			}
			if res.Status != prober.StatusOK {
				return fmt.Errorf("probe %s: %s (http %d, %dms)", args[0], res.Status, res.StatusCode, res.LatencyMs)
			}
			a.log.Info().Str("endpoint", args[0]).Int("channels", len(res.Channels)).Int64("latency_ms", res.LatencyMs).Msg("probe ok")
			return nil
		},
	}
}
