package refill

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/domain/track"
)

// PlaylistProviderConfig represents the settings of a playlist provider.
type PlaylistProviderConfig struct {
	PlaylistURL    string `yaml:"playlist_url" mapstructure:"playlist_url" validate:"required"`
	CandidateCount int    `yaml:"candidate_count" mapstructure:"candidate_count" default:"20" validate:"gte=1,lte=100"`
}

// PlaylistProvider provides tracks by randomly selecting from a configured playlist.
// It keeps unused picks in a cache to minimize catalog calls.
type PlaylistProvider struct {
	catalog Catalog
	config  PlaylistProviderConfig

	mu    sync.Mutex
	cache []track.Track
}

// NewPlaylistProvider creates a new PlaylistProvider.
func NewPlaylistProvider(catalog Catalog, settings map[string]any) (*PlaylistProvider, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}

	var config PlaylistProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("playlist provider config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &PlaylistProvider{
		catalog: catalog,
		config:  config,
	}, nil
}

// Candidates returns random tracks from the playlist, refilling the cache
// from the catalog when it cannot cover count.
func (p *PlaylistProvider) Candidates(ctx context.Context, count int, _ []track.Track, exclude map[string]bool) ([]track.Track, error) {
	if count <= 0 {
		return []track.Track{}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	available := dedupe(p.cache, exclude)

	if len(available) < count {
		needed := max(p.config.CandidateCount, count) - len(available)
		fresh, err := p.catalog.GetPlaylistTracksRandom(ctx, p.config.PlaylistURL, needed)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get random tracks from playlist")
		}
		available = dedupe(append(available, fresh...), exclude)
	}

	n := min(count, len(available))
	result := available[:n:n]
	p.cache = available[n:]

	return result, nil
}

func (p *PlaylistProvider) Name() string {
	return "playlist"
}
