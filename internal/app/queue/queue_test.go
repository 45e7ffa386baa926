package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chanson/internal/domain/track"
)

func manual(id string) track.Entry {
	return track.NewManualEntry(track.Track{ID: id}, track.Requester{ID: "user-" + id})
}

func automated(id string) track.Entry {
	return track.NewAutomatedEntry(track.Track{ID: id})
}

func trackIDs(entries []track.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TrackID()
	}
	return ids
}

func TestQueue_InsertManual_LandsAtBoundary(t *testing.T) {
	q := New()
	q.InsertManual(manual("A"))
	q.AppendAutomated(automated("B"))
	q.AppendAutomated(automated("C"))

	pos := q.InsertManual(manual("D"))

	assert.Equal(t, 1, pos)
	assert.Equal(t, []string{"A", "D", "B", "C"}, q.TrackIDs())
	assert.Equal(t, 2, q.ManualCount())
}

func TestQueue_InsertManual_PreservesRequestOrder(t *testing.T) {
	tests := []struct {
		name      string
		automated []string
		manual    []string
		expected  []string
	}{
		{
			name:     "manual only",
			manual:   []string{"m1", "m2", "m3"},
			expected: []string{"m1", "m2", "m3"},
		},
		{
			name:      "manual overtakes automated",
			automated: []string{"a1", "a2"},
			manual:    []string{"m1", "m2"},
			expected:  []string{"m1", "m2", "a1", "a2"},
		},
		{
			name:      "automated only",
			automated: []string{"a1", "a2"},
			expected:  []string{"a1", "a2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			for _, id := range tt.automated {
				require.True(t, q.AppendAutomated(automated(id)))
			}
			for i, id := range tt.manual {
				assert.Equal(t, i, q.InsertManual(manual(id)))
			}
			assert.Equal(t, tt.expected, q.TrackIDs())

			// Every manual entry precedes every automated entry.
			seenAutomated := false
			for _, e := range q.Snapshot() {
				if e.Origin == track.OriginAutomated {
					seenAutomated = true
					continue
				}
				assert.False(t, seenAutomated, "manual entry %s found after automated entry", e.TrackID())
			}
		})
	}
}

func TestQueue_InsertManual_AllowsDuplicates(t *testing.T) {
	q := New()
	q.InsertManual(manual("A"))
	q.InsertManual(manual("A"))

	assert.Equal(t, []string{"A", "A"}, q.TrackIDs())
}

func TestQueue_InsertManualBatch(t *testing.T) {
	q := New()
	q.InsertManual(manual("A"))
	q.AppendAutomated(automated("X"))

	pos := q.InsertManualBatch([]track.Entry{manual("P1"), manual("P2"), manual("P3")})

	assert.Equal(t, 1, pos)
	assert.Equal(t, []string{"A", "P1", "P2", "P3", "X"}, q.TrackIDs())
	assert.Equal(t, 4, q.ManualCount())

	assert.Equal(t, -1, q.InsertManualBatch(nil))
}

func TestQueue_AppendAutomated_Dedup(t *testing.T) {
	q := New()
	q.InsertManual(manual("A"))

	assert.False(t, q.AppendAutomated(automated("A")), "duplicate of a manual entry")
	assert.True(t, q.AppendAutomated(automated("B")))
	assert.False(t, q.AppendAutomated(automated("B")), "duplicate of an automated entry")
	assert.Equal(t, []string{"A", "B"}, q.TrackIDs())
}

func TestQueue_AppendAutomated_ClearsRequester(t *testing.T) {
	q := New()
	e := manual("A")
	require.True(t, q.AppendAutomated(e))

	head, err := q.PeekHead()
	require.NoError(t, err)
	assert.Equal(t, track.OriginAutomated, head.Origin)
	assert.Nil(t, head.Requester)
	assert.Equal(t, 0, q.ManualCount())
}

func TestQueue_PopHead(t *testing.T) {
	q := New()

	_, err := q.PopHead()
	assert.True(t, errors.Is(err, ErrEmptyQueue))

	q.AppendAutomated(automated("B"))
	q.InsertManual(manual("A"))

	e, err := q.PopHead()
	require.NoError(t, err)
	assert.Equal(t, "A", e.TrackID())
	assert.Equal(t, 0, q.ManualCount())

	e, err = q.PopHead()
	require.NoError(t, err)
	assert.Equal(t, "B", e.TrackID())
	assert.Equal(t, 0, q.Size())
}

func TestQueue_PeekHead(t *testing.T) {
	q := New()

	_, err := q.PeekHead()
	assert.True(t, errors.Is(err, ErrEmptyQueue))

	q.InsertManual(manual("A"))
	e, err := q.PeekHead()
	require.NoError(t, err)
	assert.Equal(t, "A", e.TrackID())
	assert.Equal(t, 1, q.Size(), "peek must not remove")
}

func TestQueue_PopHeadIf(t *testing.T) {
	q := New()
	a := manual("A")
	q.InsertManual(a)
	q.AppendAutomated(automated("B"))

	_, ok := q.PopHeadIf("not-the-head")
	assert.False(t, ok)
	assert.Equal(t, 2, q.Size())

	e, ok := q.PopHeadIf(a.ID)
	assert.True(t, ok)
	assert.Equal(t, "A", e.TrackID())
	assert.Equal(t, []string{"B"}, q.TrackIDs())
}

func TestQueue_RemoveByTrackID(t *testing.T) {
	q := New()
	q.InsertManual(manual("A"))
	q.InsertManual(manual("X"))
	q.InsertManual(manual("A"))
	q.AppendAutomated(automated("B"))

	removed := q.RemoveByTrackID("A")

	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"X", "B"}, q.TrackIDs())
	assert.Equal(t, 1, q.ManualCount())

	// The boundary still works after removal.
	q.InsertManual(manual("D"))
	assert.Equal(t, []string{"X", "D", "B"}, q.TrackIDs())

	assert.Equal(t, 0, q.RemoveByTrackID("missing"))
}

func TestQueue_Snapshot_DoesNotAlias(t *testing.T) {
	q := New()
	q.InsertManual(manual("A"))
	q.AppendAutomated(automated("B"))

	snap := q.Snapshot()
	snap[0].Track.ID = "mutated"
	q.InsertManual(manual("C"))

	assert.Equal(t, []string{"mutated", "B"}, trackIDs(snap))
	assert.Equal(t, []string{"A", "C", "B"}, q.TrackIDs())
}

func TestQueue_CountByRequester(t *testing.T) {
	q := New()
	q.InsertManual(track.NewManualEntry(track.Track{ID: "1"}, track.Requester{ID: "alice"}))
	q.InsertManual(track.NewManualEntry(track.Track{ID: "2"}, track.Requester{ID: "bob"}))
	q.InsertManual(track.NewManualEntry(track.Track{ID: "3"}, track.Requester{ID: "alice"}))
	q.AppendAutomated(automated("4"))

	assert.Equal(t, 2, q.CountByRequester("alice"))
	assert.Equal(t, 1, q.CountByRequester("bob"))
	assert.Equal(t, 0, q.CountByRequester("carol"))
}

func TestQueue_PinnedAutomatedHeadIsNotOvertaken(t *testing.T) {
	q := New()
	head := automated("A1")
	q.AppendAutomated(head)
	q.AppendAutomated(automated("A2"))

	pinned, err := q.PinHead()
	require.NoError(t, err)
	require.Equal(t, head.ID, pinned.ID)

	pos := q.InsertManual(manual("M1"))
	assert.Equal(t, 1, pos)
	q.InsertManual(manual("M2"))
	assert.Equal(t, []string{"A1", "M1", "M2", "A2"}, q.TrackIDs())
	assert.Equal(t, 1, q.CountByRequester("user-M1"))

	popped, ok := q.PopHeadIf(head.ID)
	require.True(t, ok)
	assert.Equal(t, "A1", popped.TrackID())

	// pin released: the manual segment is the prefix again
	q.InsertManual(manual("M3"))
	assert.Equal(t, []string{"M1", "M2", "M3", "A2"}, q.TrackIDs())
	assert.Equal(t, 3, q.ManualCount())
}

func TestQueue_PinnedManualHead(t *testing.T) {
	q := New()
	head := manual("M1")
	q.InsertManual(head)
	q.AppendAutomated(automated("A1"))
	_, err := q.PinHead()
	require.NoError(t, err)

	q.InsertManual(manual("M2"))
	assert.Equal(t, []string{"M1", "M2", "A1"}, q.TrackIDs())
}

func TestQueue_RemovePinnedHead(t *testing.T) {
	q := New()
	head := automated("A1")
	q.AppendAutomated(head)
	_, err := q.PinHead()
	require.NoError(t, err)
	q.InsertManual(manual("M1"))

	assert.Equal(t, 1, q.RemoveByTrackID("A1"))
	assert.Equal(t, 1, q.ManualCount())

	q.InsertManual(manual("M2"))
	assert.Equal(t, []string{"M1", "M2"}, q.TrackIDs())
}

func TestQueue_PinHead(t *testing.T) {
	tests := []struct {
		name     string
		manual   []string
		auto     []string
		wantHead string
		want     []string
	}{
		{
			name:     "automated head",
			auto:     []string{"A1", "A2"},
			wantHead: "A1",
			want:     []string{"A1", "M9", "A2"},
		},
		{
			name:     "manual head",
			manual:   []string{"M1"},
			auto:     []string{"A1"},
			wantHead: "M1",
			want:     []string{"M1", "M9", "A1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			for _, id := range tt.auto {
				q.AppendAutomated(automated(id))
			}
			for _, id := range tt.manual {
				q.InsertManual(manual(id))
			}

			head, err := q.PinHead()
			require.NoError(t, err)
			assert.Equal(t, tt.wantHead, head.TrackID())

			again, err := q.PinHead()
			require.NoError(t, err)
			assert.Equal(t, head.ID, again.ID, "pinning is idempotent")

			assert.Equal(t, 1, q.InsertManual(manual("M9")))
			assert.Equal(t, tt.want, q.TrackIDs())

			_, ok := q.PopHeadIf(head.ID)
			assert.True(t, ok)
			assert.Equal(t, tt.want[1:], q.TrackIDs())
		})
	}

	_, err := New().PinHead()
	assert.True(t, errors.Is(err, ErrEmptyQueue))
}

func TestQueue_PinHeadRacesInsert(t *testing.T) {
	for i := 0; i < 200; i++ {
		q := New()
		q.AppendAutomated(automated("A"))

		var wg sync.WaitGroup
		var pinned track.Entry
		wg.Add(2)
		go func() {
			defer wg.Done()
			pinned, _ = q.PinHead()
		}()
		go func() {
			defer wg.Done()
			q.InsertManual(manual("M"))
		}()
		wg.Wait()

		head, err := q.PeekHead()
		require.NoError(t, err)
		require.Equal(t, pinned.ID, head.ID, "a pinned entry is always the head")
	}
}

func TestQueue_ConcurrentAccess(t *testing.T) {
	q := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			q.InsertManual(manual(fmt.Sprintf("m%d", i)))
		}(i)
		go func(i int) {
			defer wg.Done()
			q.AppendAutomated(automated(fmt.Sprintf("a%d", i%10)))
		}(i)
		go func() {
			defer wg.Done()
			_ = q.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, q.ManualCount())
	assert.Equal(t, 60, q.Size(), "automated segment is deduplicated to 10 entries")

	seenAutomated := false
	for _, e := range q.Snapshot() {
		if e.Origin == track.OriginAutomated {
			seenAutomated = true
		} else {
			assert.False(t, seenAutomated)
		}
	}
}
