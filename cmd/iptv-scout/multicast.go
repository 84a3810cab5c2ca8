package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvscout/internal/discovery"
	"github.com/snapetech/iptvscout/internal/pipeline"
)

func newMulticastCmd(a *app) *cobra.Command {
	var (
		gateways  []string
		output    string
		sampleAll bool
	)
	c := &cobra.Command{
		Use:   "multicast",
		Short: "Discover udpxy gateways, expand province templates and write the multicast playlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("output") {
				a.cfg.MulticastOutput = output
			}
			if cmd.Flags().Changed("sample-all") {
				a.cfg.SampleMulticast = sampleAll
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			var provider discovery.Provider
			cities, isps := a.cfg.Cities, a.cfg.ISPs
			if len(gateways) > 0 {
				static, err := parseGatewayFlags(gateways)
				if err != nil {
					return err
				}
				provider = discovery.Static{GatewayMap: static}
				// flag values are taken as given, whatever the configured cities
				cities, isps = nil, nil
			} else {
				q, err := a.quake()
				if err != nil {
					return err
				}
				provider = q
			}
			found, err := provider.Gateways(ctx, cities, isps)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				return fmt.Errorf("no udpxy gateways found for %v × %v", a.cfg.Cities, a.cfg.ISPs)
			}
			n, err := a.normalizer()
			if err != nil {
				return err
			}
			out, closeOut, err := a.output(ctx, a.cfg.MulticastOutput, "")
			if err != nil {
				return err
			}
			defer closeOut()

			m := &pipeline.Multicast{
				Prober:            a.gatewayProber(),
				Sampler:           a.streamSampler(),
				Aggregator:        a.aggregator(),
				Normalizer:        n,
				TemplatesDir:      a.cfg.TemplatesDir,
				SampleAll:         a.cfg.SampleMulticast,
				ProbeConcurrency:  a.cfg.ProbeConcurrency,
				SampleConcurrency: a.cfg.SampleConcurrency,
				Output:            out,
				Logger:            a.log,
			}
			rep, err := m.Run(ctx, found)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d channels written (%d/%d gateways alive)\n",
				a.cfg.MulticastOutput, rep.Rendered, rep.Responded, rep.Endpoints)
			return nil
		},
	}
	c.Flags().StringArrayVarP(&gateways, "gateway", "g", nil, "known gateway as <province>=<url>, e.g. 北京电信=http://1.2.3.4:4022 (repeatable; skips discovery)")
	c.Flags().StringVarP(&output, "output", "o", "", "playlist path (default from IPTV_SCOUT_MULTICAST_OUTPUT or multicast.txt)")
	c.Flags().BoolVar(&sampleAll, "sample-all", false, "measure every channel instead of one per gateway")
	return c
}

// parseGatewayFlags turns "province=url" values into a province map.
func parseGatewayFlags(values []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, v := range values {
		province, u, ok := strings.Cut(v, "=")
		province, u = strings.TrimSpace(province), strings.TrimSpace(u)
		if !ok || province == "" || u == "" {
			return nil, fmt.Errorf("invalid --gateway %q (want <province>=<url>)", v)
		}
		out[province] = append(out[province], u)
	}
	return out, nil
}
