// Package notification delivers queue snapshots and playback events to
// in-process subscribers and to the remote notification sink.
package notification

import (
	"context"
	"time"

	"github.com/osa030/chanson/internal/domain/track"
)

// Type identifies the kind of notification.
type Type string

const (
	TypeQueueUpdated Type = "QUEUE_UPDATED"
	TypeTrackQueued  Type = "TRACK_QUEUED"
	TypeTrackStarted Type = "TRACK_STARTED"
	TypeTrackEnded   Type = "TRACK_ENDED"
	TypeTrackSkipped Type = "TRACK_SKIPPED"
	TypeEntryDropped Type = "ENTRY_DROPPED"
)

// Notification is a single message broadcast to subscribers.
type Notification struct {
	Type       Type
	SequenceNo uint64
	Timestamp  time.Time
	Queue      []track.Entry // set for TypeQueueUpdated
	Entry      *track.Entry  // the entry the event is about, if any
	Message    string
}

// Item is one queue element as sent to the remote sink.
type Item struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Cover  string `json:"cover"`
}

// Sink receives the current queue contents after every change.
type Sink interface {
	UpdateQueue(ctx context.Context, items []Item) error
}

// ItemsFromEntries converts a queue snapshot into sink items, head first.
func ItemsFromEntries(entries []track.Entry) []Item {
	items := make([]Item, len(entries))
	for i, e := range entries {
		items[i] = Item{
			Title:  e.Track.Metadata.Title,
			Artist: e.Track.Metadata.Artist,
			Album:  e.Track.Metadata.Album,
			Cover:  e.Track.Metadata.CoverURL,
		}
	}
	return items
}
