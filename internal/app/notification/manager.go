package notification

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// sendTimeout bounds a single subscriber send.
const sendTimeout = 500 * time.Millisecond

// Stream receives the notifications of one subscriber, e.g. a WatchQueue call.
type Stream interface {
	Send(*Notification) error
}

// Manager fans notifications out to local subscribers. Every broadcast gets
// the next sequence number, so subscribers can detect gaps.
type Manager struct {
	mu      sync.RWMutex
	streams map[string]Stream
	seq     atomic.Uint64
}

// NewManager creates a manager with no subscribers.
func NewManager() *Manager {
	return &Manager{streams: make(map[string]Stream)}
}

// Subscribe registers stream and returns its subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.streams[id] = stream
	m.mu.Unlock()
	return id
}

// Unsubscribe drops the subscription. Unknown IDs are ignored.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

// Broadcast stamps n and delivers it to every subscriber in parallel.
// A subscriber that fails or takes longer than sendTimeout misses n;
// Broadcast returns once every delivery has finished or been abandoned.
func (m *Manager) Broadcast(n *Notification) {
	n.SequenceNo = m.seq.Add(1)
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var wg sync.WaitGroup
	for id, stream := range m.subscribers() {
		wg.Go(func() { deliver(id, stream, n) })
	}
	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// Close drops every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	clear(m.streams)
	m.mu.Unlock()
}

func (m *Manager) subscribers() map[string]Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stream, len(m.streams))
	for id, s := range m.streams {
		out[id] = s
	}
	return out
}

// deliver sends n to one stream. A send that outlives sendTimeout keeps
// running in the background; its result is discarded.
func deliver(id string, stream Stream, n *Notification) {
	result := make(chan error, 1)
	go func() { result <- stream.Send(n) }()

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			zlog.Debug().Msgf("notification send failed: subscription=%s, type=%s, error=%v", id, n.Type, err)
		}
	case <-timer.C:
		zlog.Debug().Msgf("notification send timed out: subscription=%s, type=%s", id, n.Type)
	}
}
