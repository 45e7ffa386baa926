// Package track provides the Track and queue Entry domain entities.
package track

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata holds the display fields of a track.
// It is snapshotted at enqueue time and never mutated afterwards.
type Metadata struct {
	Title    string // Track title
	Artist   string // Artist names, comma separated
	Album    string // Album name
	CoverURL string // Cover art URL
}

// Track represents a resolved track.
type Track struct {
	ID            string        // Stable track ID (catalog ID)
	Metadata      Metadata      // Display metadata
	Duration      time.Duration // Track duration (0 if unknown)
	URL           string        // Catalog URL
	AudioLocation string        // Local decodable artifact
}

// DisplayName returns "Title by Artist", or just the title when the artist is unknown.
func (t Track) DisplayName() string {
	if t.Metadata.Artist == "" {
		return t.Metadata.Title
	}
	return t.Metadata.Title + " by " + t.Metadata.Artist
}

// HasArtifact reports whether the track points at a local artifact.
func (t Track) HasArtifact() bool {
	return t.AudioLocation != ""
}

// ArtifactPath returns the conventional artifact path for a track ID: {dir}/{id}.{ext}.
func ArtifactPath(dir, id, ext string) string {
	return filepath.Join(dir, id+"."+strings.TrimPrefix(ext, "."))
}

// Origin determines where an entry is inserted and whether refill may dedup against it.
type Origin string

const (
	OriginManual    Origin = "MANUAL"    // Requested by a listener
	OriginAutomated Origin = "AUTOMATED" // Added by the refill policy
)

// Requester represents the listener who requested a track.
type Requester struct {
	ID             string // Requester ID
	Name           string // Display name
	ExternalUserID string // External user ID (chat user, optional)
}

// Entry represents one queued instance of a track.
type Entry struct {
	ID        string     // Unique per queued instance
	Track     Track      // Track snapshot
	Origin    Origin     // Manual or automated
	Requester *Requester // nil for automated entries
	AddedAt   time.Time  // Time when added to queue
}

// NewManualEntry creates a manual entry for the given requester.
func NewManualEntry(t Track, requester Requester) Entry {
	r := requester
	return Entry{
		ID:        uuid.New().String(),
		Track:     t,
		Origin:    OriginManual,
		Requester: &r,
		AddedAt:   time.Now(),
	}
}

// NewAutomatedEntry creates an automated entry with no requester.
func NewAutomatedEntry(t Track) Entry {
	return Entry{
		ID:      uuid.New().String(),
		Track:   t,
		Origin:  OriginAutomated,
		AddedAt: time.Now(),
	}
}

// TrackID returns the ID of the queued track.
func (e Entry) TrackID() string {
	return e.Track.ID
}

// IsManual reports whether the entry was requested by a listener.
func (e Entry) IsManual() bool {
	return e.Origin == OriginManual
}

// RequesterID returns the requester ID, or "" for automated entries.
func (e Entry) RequesterID() string {
	if e.Requester == nil {
		return ""
	}
	return e.Requester.ID
}
