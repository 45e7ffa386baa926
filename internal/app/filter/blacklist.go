package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/domain/track"
)

// BlacklistFilter rejects blacklisted tracks for every origin.
type BlacklistFilter struct {
	checker BlacklistChecker
}

// NewBlacklistFilter creates a blacklist filter.
func NewBlacklistFilter(checker BlacklistChecker) *BlacklistFilter {
	return &BlacklistFilter{checker: checker}
}

func (f *BlacklistFilter) Name() string {
	return "blacklist_filter"
}

func (f *BlacklistFilter) Description() string {
	return "Rejects tracks an admin has blacklisted (always enabled)"
}

func (f *BlacklistFilter) ReturnCodes() []string {
	return []string{CodeBlacklisted, CodeInternalError}
}

func (f *BlacklistFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *BlacklistFilter) AppliesTo(origin track.Origin) bool {
	return true
}

func (f *BlacklistFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.checker == nil {
		return Accept()
	}

	blacklisted, err := f.checker.IsBlacklisted(ctx, t.ID)
	if err != nil {
		// fail closed: moderation must hold while the store is unhealthy
		zlog.Error().Msgf("failed to check blacklist: track_id=%s, error=%v", t.ID, err)
		return Reject(CodeInternalError)
	}
	if blacklisted {
		return Reject(CodeBlacklisted)
	}
	return Accept()
}
