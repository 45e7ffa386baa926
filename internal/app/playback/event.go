package playback

import "github.com/osa030/chanson/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Process is streaming the entry
	EventTrackEnded                    // Process exited on its own
	EventTrackSkipped                  // Process was interrupted by a skip
	EventStartFailed                   // Gateway or spawn failure, entry kept at head
	EventEntryDropped                  // Entry removed after repeated start failures
	EventQueueEmpty                    // Nothing to play
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventStartFailed:
		return "start_failed"
	case EventEntryDropped:
		return "entry_dropped"
	case EventQueueEmpty:
		return "queue_empty"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type    EventType
	Entry   *track.Entry // nil for EventQueueEmpty
	Err     error        // failure cause or process exit error
	Attempt int          // consecutive start failures, for EventStartFailed
}
