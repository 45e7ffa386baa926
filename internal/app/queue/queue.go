// Package queue provides the two-segment playback queue.
//
// The queue is conceptually [manual...][automated...]. Manual entries are
// appended to the manual segment so a new request never overtakes an earlier
// one but always overtakes automated filler.
//
// The entry being played stays at the head until playback finishes. Once
// pinned, it is held apart from both segments and is never overtaken, even
// when it is automated filler.
package queue

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/chanson/internal/domain/track"
)

// ErrEmptyQueue is returned when the queue has no entries.
var ErrEmptyQueue = errors.New("queue is empty")

// Queue is a mutex-guarded ordered queue of entries.
type Queue struct {
	mu        sync.RWMutex
	pinned    *track.Entry // head being played
	manual    []track.Entry
	automated []track.Entry
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// InsertManual appends the entry at the end of the manual segment and returns its position.
func (q *Queue) InsertManual(e track.Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.Origin = track.OriginManual
	q.manual = append(q.manual, e)
	return q.pinnedLen() + len(q.manual) - 1
}

// InsertManualBatch inserts entries at the manual/automated boundary, preserving order.
// Returns the position of the first inserted entry, or -1 if entries is empty.
func (q *Queue) InsertManualBatch(entries []track.Entry) int {
	if len(entries) == 0 {
		return -1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	first := q.pinnedLen() + len(q.manual)
	for _, e := range entries {
		e.Origin = track.OriginManual
		q.manual = append(q.manual, e)
	}
	return first
}

// AppendAutomated appends the entry to the automated tail.
// It is a no-op returning false if the track is already queued anywhere.
func (q *Queue) AppendAutomated(e track.Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.containsLocked(e.TrackID()) {
		return false
	}
	e.Origin = track.OriginAutomated
	e.Requester = nil
	q.automated = append(q.automated, e)
	return true
}

// PopHead removes and returns the first entry.
func (q *Queue) PopHead() (track.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sizeLocked() == 0 {
		return track.Entry{}, ErrEmptyQueue
	}
	return q.popLocked(), nil
}

// PopHeadIf pops the head only if it is the queued instance with the given entry ID.
func (q *Queue) PopHeadIf(entryID string) (track.Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	head, ok := q.headLocked()
	if !ok || head.ID != entryID {
		return track.Entry{}, false
	}
	return q.popLocked(), true
}

// PinHead marks the head as being played and returns it. Later manual
// inserts land behind it until it leaves the queue. Reading and pinning the
// head happen under one lock, so no insert can slip in between.
func (q *Queue) PinHead() (track.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sizeLocked() == 0 {
		return track.Entry{}, ErrEmptyQueue
	}
	q.pinLocked()
	return *q.pinned, nil
}

// PeekHead returns the first entry without removing it.
func (q *Queue) PeekHead() (track.Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	head, ok := q.headLocked()
	if !ok {
		return track.Entry{}, ErrEmptyQueue
	}
	return head, nil
}

// RemoveByTrackID drops every queued instance of the track and returns the count removed.
func (q *Queue) RemoveByTrackID(trackID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	if q.pinned != nil && q.pinned.TrackID() == trackID {
		q.pinned = nil
		removed++
	}
	match := func(e track.Entry) bool { return e.TrackID() == trackID }
	before := len(q.manual) + len(q.automated)
	q.manual = slices.DeleteFunc(q.manual, match)
	q.automated = slices.DeleteFunc(q.automated, match)
	return removed + before - len(q.manual) - len(q.automated)
}

// Size returns the number of entries.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.sizeLocked()
}

// ManualCount returns the number of manual entries, including a pinned manual head.
func (q *Queue) ManualCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := len(q.manual)
	if q.pinned != nil && q.pinned.IsManual() {
		n++
	}
	return n
}

// Snapshot returns an ordered copy of the entries.
func (q *Queue) Snapshot() []track.Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]track.Entry, 0, q.sizeLocked())
	if q.pinned != nil {
		result = append(result, *q.pinned)
	}
	result = append(result, q.manual...)
	return append(result, q.automated...)
}

// ContainsTrack reports whether the track is queued anywhere.
func (q *Queue) ContainsTrack(trackID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.containsLocked(trackID)
}

// TrackIDs returns the IDs of all queued tracks in order.
func (q *Queue) TrackIDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]string, 0, q.sizeLocked())
	q.eachLocked(func(e track.Entry) bool {
		ids = append(ids, e.TrackID())
		return true
	})
	return ids
}

// CountByRequester returns how many manual entries the requester has queued.
func (q *Queue) CountByRequester(requesterID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	q.eachLocked(func(e track.Entry) bool {
		if e.IsManual() && e.RequesterID() == requesterID {
			n++
		}
		return true
	})
	return n
}

func (q *Queue) pinnedLen() int {
	if q.pinned != nil {
		return 1
	}
	return 0
}

func (q *Queue) sizeLocked() int {
	return q.pinnedLen() + len(q.manual) + len(q.automated)
}

func (q *Queue) headLocked() (track.Entry, bool) {
	switch {
	case q.pinned != nil:
		return *q.pinned, true
	case len(q.manual) > 0:
		return q.manual[0], true
	case len(q.automated) > 0:
		return q.automated[0], true
	}
	return track.Entry{}, false
}

// pinLocked moves the head out of its segment. The queue must not be empty.
func (q *Queue) pinLocked() {
	if q.pinned != nil {
		return
	}
	var e track.Entry
	if len(q.manual) > 0 {
		e, q.manual = shift(q.manual)
	} else {
		e, q.automated = shift(q.automated)
	}
	q.pinned = &e
}

// popLocked removes the head. The queue must not be empty.
func (q *Queue) popLocked() track.Entry {
	var e track.Entry
	switch {
	case q.pinned != nil:
		e, q.pinned = *q.pinned, nil
	case len(q.manual) > 0:
		e, q.manual = shift(q.manual)
	default:
		e, q.automated = shift(q.automated)
	}
	return e
}

func (q *Queue) containsLocked(trackID string) bool {
	found := false
	q.eachLocked(func(e track.Entry) bool {
		found = e.TrackID() == trackID
		return !found
	})
	return found
}

// eachLocked visits entries in queue order until fn returns false.
func (q *Queue) eachLocked(fn func(track.Entry) bool) {
	if q.pinned != nil && !fn(*q.pinned) {
		return
	}
	for _, e := range q.manual {
		if !fn(e) {
			return
		}
	}
	for _, e := range q.automated {
		if !fn(e) {
			return
		}
	}
}

// shift removes the first element, clearing its slot so it can be collected.
func shift(s []track.Entry) (track.Entry, []track.Entry) {
	e := s[0]
	s[0] = track.Entry{}
	return e, s[1:]
}
