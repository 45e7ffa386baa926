package refill

import (
	"os"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/infra/config"
	"github.com/osa030/chanson/internal/infra/lastfm"
)

// ProviderDeps are the collaborators providers are built from.
type ProviderDeps struct {
	History HistorySource
	Catalog Catalog // nil disables playlist and similar providers
}

// NewProviderChainFromConfig creates a provider chain from configuration.
// With no providers configured the chain holds only the history provider.
func NewProviderChainFromConfig(providers []config.ProviderConfig, deps ProviderDeps) (*ProviderChain, error) {
	if len(providers) == 0 {
		providers = []config.ProviderConfig{{Type: "history", DisplayName: "History"}}
	}

	var chain []ProviderWithMetadata
	for i, pcfg := range providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating refill provider: index=%d, type=%s", i+1, pcfg.Type)
		switch pcfg.Type {
		case "history":
			if deps.History == nil {
				err = errors.New("history store is required")
				break
			}
			provider = NewHistoryProvider(deps.History)

		case "playlist":
			provider, err = NewPlaylistProvider(deps.Catalog, pcfg.Settings)

		case "similar":
			provider, err = newSimilarProvider(pcfg.Settings, deps.Catalog)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		chain = append(chain, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered refill provider: index=%d, type=%s, display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewProviderChain(chain), nil
}

func newSimilarProvider(settings map[string]any, catalog Catalog) (*SimilarProvider, error) {
	merged := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		merged[k] = v
	}
	if _, ok := merged["api_key"]; !ok {
		if key := os.Getenv("LASTFM_API_KEY"); key != "" {
			merged["api_key"] = key
		}
	}

	cfg, err := ParseSimilarProviderConfig(merged)
	if err != nil {
		return nil, err
	}
	client, err := lastfm.New(lastfm.Config{APIKey: cfg.APIKey})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}
	return NewSimilarProvider(client, catalog, cfg)
}
