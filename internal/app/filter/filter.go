// Package filter provides the filter chain that decides whether a track may
// be queued.
package filter

import (
	"context"

	"github.com/osa030/chanson/internal/domain/track"
)

// Result codes. They double as message keys in the configuration.
const (
	CodeBlacklisted           = "blacklisted_track"
	CodeUserPending           = "user_pending"
	CodeDuplicateTrack        = "duplicate_track"
	CodeDurationLimitExceeded = "duration_limit_exceeded"
	CodeInternalError         = "default_error"
)

// Request describes who is asking for a track.
type Request struct {
	Origin    track.Origin
	Requester *track.Requester // nil for automated candidates
}

// RequesterID returns the requester ID, or "" when there is none.
func (r Request) RequesterID() string {
	if r.Requester == nil {
		return ""
	}
	return r.Requester.ID
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "user_pending", "blacklisted_track"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for request filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter settings.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to entries of the given origin.
	AppliesTo(origin track.Origin) bool
	// Check performs the filter check.
	Check(ctx context.Context, req Request, t track.Track) Result
}

// BlacklistChecker reports whether a track is blacklisted.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, trackID string) (bool, error)
}

// QueueReader is the read-only view of the queue filters need.
type QueueReader interface {
	Snapshot() []track.Entry
	CountByRequester(requesterID string) int
}

// Deps are handed to filter factories.
type Deps struct {
	Blacklist BlacklistChecker
	Queue     QueueReader
}

// registry holds registered filter factories.
var registry = make(map[string]func(Deps) Filter)

// Register registers a filter factory.
func Register(name string, factory func(Deps) Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func(Deps) Filter {
	return registry
}
