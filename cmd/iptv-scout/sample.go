package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvscout/internal/ranking"
	"github.com/snapetech/iptvscout/internal/safeurl"
)

func newSampleCmd(a *app) *cobra.Command {
	var strategy string
	c := &cobra.Command{
		Use:   "sample <url>",
		Short: "Measure the speed and resolution of one stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !safeurl.IsProbeable(args[0]) {
				return fmt.Errorf("not an http(s) stream url: %s", args[0])
			}
			if cmd.Flags().Changed("strategy") {
				a.cfg.SampleStrategy = strategy
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			res := a.streamSampler().Sample(cmd.Context(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s MB/s %s\n", ranking.FormatSpeed(res.SpeedMBps), res.Resolution)
			return nil
		},
	}
	c.Flags().StringVar(&strategy, "strategy", "", "sampling strategy: segment|window")
	return c
}
