package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/discovery"
	"github.com/snapetech/iptvscout/internal/history"
	"github.com/snapetech/iptvscout/internal/state"
)

// Seeds are the non-discovery sources of hotel candidates.
type Seeds struct {
	StatePath string
	History   *history.Store
	Since     time.Duration // history lookback; 0 = 7 days
	MinSpeed  float64       // history rows must exceed this; 0 disables history seeding
	Extra     []string      // endpoints given on the command line
}

// HotelCandidates merges discovery results with previously responsive endpoints
// from the state file and history. A discovery failure is logged and the seeds
// are still returned.
func HotelCandidates(ctx context.Context, p discovery.Provider, seeds Seeds, log zerolog.Logger) []channel.Endpoint {
	var all []string
	if p != nil {
		found, err := p.Hotel(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("hotel discovery failed; using known endpoints")
		}
		all = append(all, found...)
	}
	all = append(all, seeds.Extra...)
	if seeds.StatePath != "" {
		all = append(all, state.Load(seeds.StatePath).HotelEndpoints()...)
	}
	if seeds.History != nil && seeds.MinSpeed > 0 {
		since := seeds.Since
		if since <= 0 {
			since = 7 * 24 * time.Hour
		}
		good, err := seeds.History.GoodEndpoints(ctx, time.Now().Add(-since), seeds.MinSpeed)
		if err != nil {
			log.Warn().Err(err).Msg("history seed failed")
		}
		all = append(all, good...)
	}
	eps := channel.Endpoints(all)
	log.Info().Int("candidates", len(eps)).Msg("hotel candidates merged")
	return eps
}
