// Command iptv-scout finds working IPTV sources, measures them and writes ranked playlists.
//
//	run        Discover hotel portals, probe their listings, sample every channel, write hotel.txt
//	multicast  Discover udpxy gateways, expand province templates, write multicast.txt
//	probe      Fetch and print one portal's cleaned channel listing
//	sample     Measure one stream URL
//	serve      Serve the last run's playlists, state and metrics over HTTP
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvscout/internal/config"
	"github.com/snapetech/iptvscout/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var envFile, logLevel, logFormat string

	cmd := &cobra.Command{
		Use:           "iptv-scout",
		Short:         "Find, measure and rank free IPTV sources",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			a.cfg = config.Load()
			if cmd.Flags().Changed("log-level") {
				a.cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				a.cfg.LogFormat = logFormat
			}
			a.log = logging.Setup(a.cfg.LogLevel, a.cfg.LogFormat)
			rules, err := config.LoadRules(a.cfg.RulesFile)
			if err != nil {
				return err
			}
			a.rules = rules
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading IPTV_SCOUT_* variables")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (default from IPTV_SCOUT_LOG_LEVEL or info)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console|json (default: console on a terminal)")

	cmd.AddCommand(
		newRunCmd(a),
		newMulticastCmd(a),
		newProbeCmd(a),
		newSampleCmd(a),
		newServeCmd(a),
		newCheckCmd(a),
	)
	return cmd
}
