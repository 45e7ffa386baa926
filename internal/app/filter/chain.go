package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/domain/track"
)

// Settings supplies per-filter configuration.
type Settings interface {
	IsFilterEnabled(name string) bool
	GetFilterSettings(name string) map[string]any
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Build creates the chain from configuration. The blacklist filter is always
// first; the remaining registered filters are added in name order when enabled.
func Build(settings Settings, deps Deps) (*Chain, error) {
	chain := NewChain()

	blacklist := NewBlacklistFilter(deps.Blacklist)
	chain.Add(blacklist)

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !settings.IsFilterEnabled(name) {
			continue
		}
		f := registry[name](deps)
		if err := f.ValidateConfig(settings.GetFilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for filter %s", name)
		}
		chain.Add(f)
		zlog.Info().Msgf("filter enabled: name=%s", name)
	}

	return chain, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
// Filters are only applied if they declare they apply to the request's origin.
func (c *Chain) Execute(ctx context.Context, req Request, t track.Track) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(req.Origin) {
			continue
		}

		result := f.Check(ctx, req, t)
		if !result.Accepted {
			zlog.Debug().Msgf("filter rejected track: filter=%s, track_id=%s, code=%s", f.Name(), t.ID, result.Code)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
