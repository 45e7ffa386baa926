// Package refill keeps the automated segment of the queue topped up.
package refill

import (
	"context"

	"github.com/osa030/chanson/internal/domain/track"
)

// Provider supplies automated track candidates.
// Different implementations draw from different sources (play history,
// a playlist, similar-track recommendations).
type Provider interface {
	// Candidates retrieves up to count candidates.
	// seeds: tracks currently queued, usable as recommendation hints
	// exclude: track IDs that must not be returned
	Candidates(ctx context.Context, count int, seeds []track.Track, exclude map[string]bool) ([]track.Track, error)

	// Name returns the provider type (used in config).
	Name() string
}

// Catalog defines the catalog operations providers need.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
	GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]track.Track, error)
}

// HistorySource picks random eligible tracks from play history.
type HistorySource interface {
	RandomEligible(ctx context.Context, count int, excludeIDs []string) ([]track.Track, error)
}

// dedupe drops repeated and excluded track IDs, preserving order.
func dedupe(tracks []track.Track, exclude map[string]bool) []track.Track {
	seen := make(map[string]bool, len(tracks))
	result := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" || seen[t.ID] || exclude[t.ID] {
			continue
		}
		seen[t.ID] = true
		result = append(result, t)
	}
	return result
}
