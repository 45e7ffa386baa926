package refill

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/chanson/internal/domain/track"
)

// HistoryProvider draws random eligible tracks from play history.
// Blacklisted and recently played tracks are excluded by the store.
type HistoryProvider struct {
	history HistorySource
}

// NewHistoryProvider creates a new HistoryProvider.
func NewHistoryProvider(history HistorySource) *HistoryProvider {
	return &HistoryProvider{history: history}
}

func (p *HistoryProvider) Candidates(ctx context.Context, count int, _ []track.Track, exclude map[string]bool) ([]track.Track, error) {
	if count <= 0 {
		return []track.Track{}, nil
	}

	excludeIDs := make([]string, 0, len(exclude))
	for id, excluded := range exclude {
		if excluded {
			excludeIDs = append(excludeIDs, id)
		}
	}

	tracks, err := p.history.RandomEligible(ctx, count, excludeIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select from history")
	}
	return tracks, nil
}

func (p *HistoryProvider) Name() string {
	return "history"
}
