// Package playback provides the playback scheduler that turns the head of
// the queue into a running stream process, one track at a time.
package playback

// State represents the playback state.
type State int

const (
	StateIdle     State = iota // No process running
	StateStarting              // Producer opened, process being spawned
	StatePlaying               // Process streaming
	StateStopping              // Process exiting, bookkeeping in progress
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
