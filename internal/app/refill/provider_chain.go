package refill

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/domain/track"
)

// Candidate represents a track candidate with its source provider info.
type Candidate struct {
	Track       track.Track
	DisplayName string
}

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// ProviderChain tries multiple providers in order until enough candidates are found.
type ProviderChain struct {
	providers []ProviderWithMetadata
}

// NewProviderChain creates a new provider chain.
func NewProviderChain(providers []ProviderWithMetadata) *ProviderChain {
	return &ProviderChain{
		providers: providers,
	}
}

// Candidates collects up to count candidates. A failing provider is logged
// and the next one is tried. An empty result is not an error: a cold history
// with no fallback simply yields nothing.
func (c *ProviderChain) Candidates(ctx context.Context, count int, seeds []track.Track, exclude map[string]bool) []Candidate {
	var all []Candidate
	currentExclude := make(map[string]bool, len(exclude))
	for k, v := range exclude {
		currentExclude[k] = v
	}

	for i, pm := range c.providers {
		remaining := count - len(all)
		if remaining <= 0 {
			break
		}
		zlog.Debug().Msgf("trying provider: index=%d, total=%d, name=%s, provider_type=%s, remaining=%d",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name(), remaining)

		candidates, err := pm.Provider.Candidates(ctx, remaining, seeds, currentExclude)
		if err != nil {
			zlog.Warn().Msgf("provider failed, trying next: provider=%s, error=%v", pm.DisplayName, err)
			continue
		}

		added := 0
		for _, t := range dedupe(candidates, currentExclude) {
			if added >= remaining {
				break
			}
			all = append(all, Candidate{Track: t, DisplayName: pm.DisplayName})
			// keep the next provider from returning the same tracks
			currentExclude[t.ID] = true
			added++
		}

		zlog.Debug().Msgf("provider returned candidates: provider=%s, count=%d, total_so_far=%d",
			pm.DisplayName, added, len(all))
	}

	return all
}

// Len returns the number of providers.
func (c *ProviderChain) Len() int {
	return len(c.providers)
}
