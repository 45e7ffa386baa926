package notification

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/domain/track"
)

// eventBuffer is the number of pending events held before new ones are dropped.
const eventBuffer = 64

// Publisher pushes queue snapshots and events to the Manager and the remote Sink
// from a single background worker. Publishing never blocks the caller.
// Queue snapshots coalesce: only the most recent pending snapshot is delivered.
type Publisher struct {
	manager     *Manager
	sink        Sink
	sinkTimeout time.Duration

	snapshots chan []track.Entry
	events    chan *Notification
}

// NewPublisher creates a publisher. sink may be nil.
func NewPublisher(manager *Manager, sink Sink, sinkTimeout time.Duration) *Publisher {
	if sinkTimeout <= 0 {
		sinkTimeout = 10 * time.Second
	}
	return &Publisher{
		manager:     manager,
		sink:        sink,
		sinkTimeout: sinkTimeout,
		snapshots:   make(chan []track.Entry, 1),
		events:      make(chan *Notification, eventBuffer),
	}
}

// PublishQueue schedules delivery of a queue snapshot, replacing any
// snapshot that has not been delivered yet.
func (p *Publisher) PublishQueue(entries []track.Entry) {
	for {
		select {
		case p.snapshots <- entries:
			return
		default:
		}
		// Drop the stale pending snapshot and retry.
		select {
		case <-p.snapshots:
		default:
		}
	}
}

// Notify schedules a broadcast of an event notification.
func (p *Publisher) Notify(n *Notification) {
	select {
	case p.events <- n:
	default:
		zlog.Warn().Msgf("notification dropped, buffer full: type=%s", n.Type)
	}
}

// Run delivers pending notifications until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case entries := <-p.snapshots:
			p.deliverQueue(ctx, entries)
		case n := <-p.events:
			p.manager.Broadcast(n)
		}
	}
}

func (p *Publisher) deliverQueue(ctx context.Context, entries []track.Entry) {
	p.manager.Broadcast(&Notification{
		Type:  TypeQueueUpdated,
		Queue: entries,
	})

	if p.sink == nil {
		return
	}

	sinkCtx, cancel := context.WithTimeout(ctx, p.sinkTimeout)
	defer cancel()
	if err := p.sink.UpdateQueue(sinkCtx, ItemsFromEntries(entries)); err != nil {
		zlog.Warn().Msgf("failed to push queue to sink: items=%d, error=%v", len(entries), err)
	}
}
