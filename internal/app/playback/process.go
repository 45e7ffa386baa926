package playback

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/chanson/internal/domain/stream"
	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/history"
)

// Errors
var (
	ErrNothingToSkip       = errors.New("nothing to skip")
	ErrProcessSpawnFailure = errors.New("process spawn failure")
)

// CancellableProcess is a running stream process.
type CancellableProcess interface {
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// Cancel interrupts the process without waiting for it to exit.
	Cancel() error
	// PID returns the operating system process ID.
	PID() int
}

// Launcher spawns the stream process for a track.
type Launcher interface {
	Launch(ctx context.Context, t track.Track, endpoint stream.Endpoint) (CancellableProcess, error)
}

// Gateway opens and closes production on the remote producer.
type Gateway interface {
	StartProduction(ctx context.Context) (stream.Endpoint, error)
	StopProduction(ctx context.Context) error
}

// HistoryRecorder receives finished plays.
type HistoryRecorder interface {
	AppendHistory(ctx context.Context, p history.Play) error
	RecordPlay(ctx context.Context, t track.Track) error
}

// SnapshotPublisher receives queue snapshots. It must not block.
type SnapshotPublisher interface {
	PublishQueue(entries []track.Entry)
}

// Refiller is asked to top up the queue after it shrinks. It must not block.
type Refiller interface {
	Trigger()
}
