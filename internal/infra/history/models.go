package history

import (
	"time"

	"github.com/osa030/chanson/internal/domain/track"
)

// TrackLog is one resolved-track log row. A track may be logged several times.
type TrackLog struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	TrackID       string `gorm:"index;not null"`
	RequesterID   string
	Title         string
	Artist        string
	Album         string
	CoverURL      string
	DurationMs    int64
	URL           string
	AudioLocation string
	CreatedAt     time.Time
}

// TrackStat holds the per-track play counter.
type TrackStat struct {
	TrackID    string `gorm:"primaryKey"`
	Title      string
	PlayCount  int64 `gorm:"not null;default:0"`
	LastPlayed *time.Time
}

// PlayHistory is one finished play, ordered by ID for the recency window.
type PlayHistory struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TrackID     string `gorm:"index;not null"`
	RequestedBy string
	Source      string
	PlayedAt    time.Time `gorm:"index"`
}

// BlacklistedTrack marks a track as never playable again.
type BlacklistedTrack struct {
	TrackID   string `gorm:"primaryKey"`
	Reason    string
	CreatedAt time.Time
}

func newTrackLog(t track.Track, requesterID string) TrackLog {
	return TrackLog{
		TrackID:       t.ID,
		RequesterID:   requesterID,
		Title:         t.Metadata.Title,
		Artist:        t.Metadata.Artist,
		Album:         t.Metadata.Album,
		CoverURL:      t.Metadata.CoverURL,
		DurationMs:    t.Duration.Milliseconds(),
		URL:           t.URL,
		AudioLocation: t.AudioLocation,
	}
}

func (l TrackLog) toTrack() track.Track {
	return track.Track{
		ID: l.TrackID,
		Metadata: track.Metadata{
			Title:    l.Title,
			Artist:   l.Artist,
			Album:    l.Album,
			CoverURL: l.CoverURL,
		},
		Duration:      time.Duration(l.DurationMs) * time.Millisecond,
		URL:           l.URL,
		AudioLocation: l.AudioLocation,
	}
}
