package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/chanson/internal/domain/track"
)

// DuplicateTrackFilter checks for duplicate tracks in the queue.
// Detects:
// - Exact track ID matches
// - Remasters (normalized title + same main artist)
// Cover songs (same title, different artist) are allowed.
type DuplicateTrackFilter struct {
	queue QueueReader
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(queue QueueReader) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{queue: queue}
}

func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already in the queue, remasters included. Covers by other artists are allowed"
}

func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{CodeDuplicateTrack}
}

func (f *DuplicateTrackFilter) AppliesTo(origin track.Origin) bool {
	// refill dedups against the queue on its own
	return origin == track.OriginManual
}

func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	return nil
}

func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, requested track.Track) Result {
	if f.queue == nil {
		return Accept()
	}
	for _, queued := range f.queue.Snapshot() {
		if queued.Track.ID == requested.ID || isRemaster(queued.Track, requested) {
			return Reject(CodeDuplicateTrack)
		}
	}
	return Accept()
}

// isRemaster reports whether two tracks are versions of the same song.
func isRemaster(a, b track.Track) bool {
	if normalizeTrackName(a.Metadata.Title) != normalizeTrackName(b.Metadata.Title) {
		return false
	}
	return isSameArtist(a, b)
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*\(live\)`),              // "(Live)"
		regexp.MustCompile(`\s*-\s*live$`),             // "- Live"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTrackName removes remaster and version details from a title.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)
	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = spaces.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

// mainArtist returns the first of a comma separated artist list.
func mainArtist(t track.Track) string {
	first, _, _ := strings.Cut(t.Metadata.Artist, ",")
	return strings.TrimSpace(first)
}

func isSameArtist(a, b track.Track) bool {
	artistA, artistB := mainArtist(a), mainArtist(b)
	if artistA == "" || artistB == "" {
		return false
	}
	return strings.EqualFold(artistA, artistB)
}

func init() {
	Register("duplicate_track_filter", func(deps Deps) Filter {
		return NewDuplicateTrackFilter(deps.Queue)
	})
}
