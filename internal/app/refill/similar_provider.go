package refill

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/lastfm"
)

// LastFmClient defines the Last.fm operations the similar provider needs.
type LastFmClient interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.SimilarTrack, error)
	GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.TopTrack, error)
}

// SimilarProviderConfig represents the settings of a similar provider.
type SimilarProviderConfig struct {
	APIKey         string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	SeedTrackCount int    `yaml:"seed_track_count" mapstructure:"seed_track_count" default:"3" validate:"gte=1"`
	PerSeed        int    `yaml:"per_seed" mapstructure:"per_seed" default:"10" validate:"gte=1,lte=100"`
}

// SimilarProvider recommends tracks similar to the ones queued, using Last.fm
// and looking each recommendation up in the catalog. With no seeds it falls
// back to the global chart.
type SimilarProvider struct {
	lastfm  LastFmClient
	catalog Catalog
	config  SimilarProviderConfig

	// catalog lookups by "title:artist"; nil marks a miss
	searchMu    sync.Mutex
	searchCache map[string]*track.Track
}

// ParseSimilarProviderConfig decodes, defaults and validates settings.
func ParseSimilarProviderConfig(settings map[string]any) (SimilarProviderConfig, error) {
	var config SimilarProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return config, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return config, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return config, errors.Wrap(err, "validation failed")
	}
	return config, nil
}

// NewSimilarProvider creates a new SimilarProvider.
func NewSimilarProvider(client LastFmClient, catalog Catalog, config SimilarProviderConfig) (*SimilarProvider, error) {
	if client == nil || catalog == nil {
		return nil, errors.New("last.fm client and catalog are required")
	}
	return &SimilarProvider{
		lastfm:      client,
		catalog:     catalog,
		config:      config,
		searchCache: make(map[string]*track.Track),
	}, nil
}

func (p *SimilarProvider) Candidates(ctx context.Context, count int, seeds []track.Track, exclude map[string]bool) ([]track.Track, error) {
	if count <= 0 {
		return []track.Track{}, nil
	}

	seeds = usableSeeds(seeds, p.config.SeedTrackCount)
	if len(seeds) == 0 {
		return p.chartCandidates(ctx, count, exclude)
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		candidates []track.Track
	)
	for _, seed := range seeds {
		wg.Add(1)
		go func(s track.Track) {
			defer wg.Done()
			similar, err := p.lastfm.GetSimilarTracks(ctx, s.Metadata.Title, mainArtist(s), p.config.PerSeed)
			if err != nil {
				zlog.Debug().Msgf("similar lookup failed: track_id=%s, error=%v", s.ID, err)
				return
			}
			for _, sim := range similar {
				if t := p.lookup(ctx, sim.Name, sim.Artist); t != nil {
					mu.Lock()
					candidates = append(candidates, *t)
					mu.Unlock()
				}
			}
		}(seed)
	}
	wg.Wait()

	candidates = dedupe(candidates, exclude)
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates, nil
}

// chartCandidates is used when nothing is queued to seed recommendations.
func (p *SimilarProvider) chartCandidates(ctx context.Context, count int, exclude map[string]bool) ([]track.Track, error) {
	chart, err := p.lastfm.GetChartTopTracks(ctx, 50)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chart")
	}
	rand.Shuffle(len(chart), func(i, j int) {
		chart[i], chart[j] = chart[j], chart[i]
	})

	var candidates []track.Track
	for _, c := range chart {
		if len(candidates) >= count {
			break
		}
		if t := p.lookup(ctx, c.Name, c.Artist); t != nil && !exclude[t.ID] {
			candidates = append(candidates, *t)
		}
	}
	return dedupe(candidates, nil), nil
}

// lookup finds a Last.fm track in the catalog, caching hits and misses.
func (p *SimilarProvider) lookup(ctx context.Context, name, artist string) *track.Track {
	key := fmt.Sprintf("%s:%s", strings.ToLower(name), strings.ToLower(artist))

	p.searchMu.Lock()
	cached, ok := p.searchCache[key]
	p.searchMu.Unlock()
	if ok {
		return cached
	}

	var found *track.Track
	results, err := p.catalog.Search(ctx, fmt.Sprintf("track:%s artist:%s", name, artist), 1)
	if err == nil && len(results) > 0 {
		found = &results[0]
	} else if err != nil && ctx.Err() != nil {
		// do not cache misses caused by cancellation
		return nil
	}

	p.searchMu.Lock()
	p.searchCache[key] = found
	p.searchMu.Unlock()
	return found
}

func (p *SimilarProvider) Name() string {
	return "similar"
}

func usableSeeds(seeds []track.Track, limit int) []track.Track {
	result := make([]track.Track, 0, limit)
	for _, s := range seeds {
		if len(result) >= limit {
			break
		}
		if s.Metadata.Title != "" && mainArtist(s) != "" {
			result = append(result, s)
		}
	}
	return result
}

func mainArtist(t track.Track) string {
	first, _, _ := strings.Cut(t.Metadata.Artist, ",")
	return strings.TrimSpace(first)
}
