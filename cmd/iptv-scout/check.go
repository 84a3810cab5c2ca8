package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvscout/internal/health"
)

func newCheckCmd(a *app) *cobra.Command {
	var base string
	c := &cobra.Command{
		Use:   "check",
		Short: "Check the local state file, or a running server with --url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if base != "" {
				if err := health.CheckEndpoints(cmd.Context(), nil, base); err != nil {
					return fmt.Errorf("server %s: %w", base, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", base)
				return nil
			}
			if err := health.CheckState(a.cfg.StatePath, a.cfg.StateMaxAge); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", a.cfg.StatePath)
			return nil
		},
	}
	c.Flags().StringVar(&base, "url", "", "base URL of a running iptv-scout serve")
	return c
}
