package refill

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chanson/internal/app/filter"
	"github.com/osa030/chanson/internal/app/queue"
	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(":memory:", history.Options{RecencyWindow: history.DefaultRecencyWindow})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func logTracks(t *testing.T, store *history.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tr := track.Track{
			ID:            fmt.Sprintf("h%02d", i),
			Metadata:      track.Metadata{Title: fmt.Sprintf("Song %d", i), Artist: "Artist"},
			AudioLocation: fmt.Sprintf("/downloads/h%02d.opus", i),
		}
		require.NoError(t, store.AppendLog(context.Background(), tr, "listener"))
	}
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots [][]track.Entry
}

func (p *recordingPublisher) PublishQueue(entries []track.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, entries)
}

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

type fakeEnsurer struct {
	fail map[string]bool
}

func (e *fakeEnsurer) Ensure(_ context.Context, t track.Track) (track.Track, error) {
	if e.fail[t.ID] {
		return track.Track{}, errors.New("download failed")
	}
	if t.AudioLocation == "" {
		t.AudioLocation = "/downloads/" + t.ID + ".opus"
	}
	return t, nil
}

type staticProvider struct {
	tracks []track.Track
	err    error
	calls  int
}

func (p *staticProvider) Candidates(_ context.Context, count int, _ []track.Track, exclude map[string]bool) ([]track.Track, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := dedupe(p.tracks, exclude)
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (p *staticProvider) Name() string { return "static" }

func manualEntry(id string) track.Entry {
	return track.NewManualEntry(track.Track{ID: id, AudioLocation: "/downloads/" + id + ".opus"}, track.Requester{ID: "listener"})
}

func TestPolicy_RefillsToMinDepth(t *testing.T) {
	store := openStore(t)
	logTracks(t, store, 20)

	q := queue.New()
	for _, id := range []string{"m1", "m2", "m3"} {
		q.InsertManual(manualEntry(id))
	}

	pub := &recordingPublisher{}
	waker := &countingWaker{}
	p := NewPolicy(Config{MinQueueDepth: 10, RecencyWindow: 100}, Deps{
		Queue:     q,
		Providers: NewProviderChain([]ProviderWithMetadata{{Provider: NewHistoryProvider(store), DisplayName: "History"}}),
		History:   store,
		Publisher: pub,
		Waker:     waker,
	})

	added, err := p.Refill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, added)
	assert.Equal(t, 10, q.Size())
	assert.Equal(t, 3, q.ManualCount(), "manual segment untouched")

	seen := map[string]bool{}
	for i, e := range q.Snapshot() {
		if i < 3 {
			assert.True(t, e.IsManual())
			continue
		}
		assert.Equal(t, track.OriginAutomated, e.Origin)
		assert.Nil(t, e.Requester)
		assert.False(t, seen[e.TrackID()], "no duplicate automated tracks")
		seen[e.TrackID()] = true
	}

	assert.Len(t, pub.snapshots, 1)
	assert.Equal(t, int32(1), waker.n.Load())

	added, err = p.Refill(context.Background())
	require.NoError(t, err)
	assert.Zero(t, added, "full queue needs nothing")
}

func TestPolicy_ExcludesRecentAndBlacklisted(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	logTracks(t, store, 5)

	require.NoError(t, store.Blacklist(ctx, "h00", "offensive"))
	require.NoError(t, store.AppendHistory(ctx, history.Play{TrackID: "h01", Source: history.SourceManual, PlayedAt: time.Now()}))

	q := queue.New()
	q.AppendAutomated(track.NewAutomatedEntry(track.Track{ID: "h02", AudioLocation: "/downloads/h02.opus"}))

	p := NewPolicy(Config{MinQueueDepth: 10, RecencyWindow: 100}, Deps{
		Queue:     q,
		Providers: NewProviderChain([]ProviderWithMetadata{{Provider: NewHistoryProvider(store), DisplayName: "History"}}),
		History:   store,
	})

	added, err := p.Refill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added, "partial refill from a thin history")
	assert.ElementsMatch(t, []string{"h02", "h03", "h04"}, q.TrackIDs())
}

func TestPolicy_FilterAndEnsureFailures(t *testing.T) {
	provider := &staticProvider{tracks: []track.Track{
		{ID: "ok1"}, {ID: "banned"}, {ID: "broken"}, {ID: "ok2"},
	}}

	chain := filter.NewChain()
	chain.Add(filter.NewBlacklistFilter(blacklist{"banned": true}))

	q := queue.New()
	p := NewPolicy(Config{MinQueueDepth: 4}, Deps{
		Queue:     q,
		Providers: NewProviderChain([]ProviderWithMetadata{{Provider: provider, DisplayName: "Static"}}),
		Filters:   chain,
		Ensurer:   &fakeEnsurer{fail: map[string]bool{"broken": true}},
	})

	added, err := p.Refill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"ok1", "ok2"}, q.TrackIDs())
	for _, e := range q.Snapshot() {
		assert.True(t, e.Track.HasArtifact(), "ensured entries point at an artifact")
	}
}

func TestPolicy_ProviderFallback(t *testing.T) {
	failing := &staticProvider{err: errors.New("database is locked")}
	empty := &staticProvider{}
	fallback := &staticProvider{tracks: []track.Track{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}}

	q := queue.New()
	p := NewPolicy(Config{MinQueueDepth: 2}, Deps{
		Queue: q,
		Providers: NewProviderChain([]ProviderWithMetadata{
			{Provider: failing, DisplayName: "Failing"},
			{Provider: empty, DisplayName: "Empty"},
			{Provider: fallback, DisplayName: "Fallback"},
		}),
	})

	added, err := p.Refill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"p1", "p2"}, q.TrackIDs())
}

func TestPolicy_Disabled(t *testing.T) {
	provider := &staticProvider{tracks: []track.Track{{ID: "a"}}}
	p := NewPolicy(Config{MinQueueDepth: 0}, Deps{
		Queue:     queue.New(),
		Providers: NewProviderChain([]ProviderWithMetadata{{Provider: provider, DisplayName: "Static"}}),
	})

	added, err := p.Refill(context.Background())
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, provider.calls)
}

func TestPolicy_ConcurrentRefillsDoNotOverfill(t *testing.T) {
	store := openStore(t)
	logTracks(t, store, 30)

	q := queue.New()
	p := NewPolicy(Config{MinQueueDepth: 10}, Deps{
		Queue:     q,
		Providers: NewProviderChain([]ProviderWithMetadata{{Provider: NewHistoryProvider(store), DisplayName: "History"}}),
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Refill(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, q.Size())
}

func TestPolicy_RunRefillsOnTrigger(t *testing.T) {
	provider := &staticProvider{tracks: []track.Track{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	q := queue.New()
	p := NewPolicy(Config{MinQueueDepth: 1, Interval: time.Hour}, Deps{
		Queue:     q,
		Providers: NewProviderChain([]ProviderWithMetadata{{Provider: provider, DisplayName: "Static"}}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Size() == 1 }, time.Second, 5*time.Millisecond, "initial refill")

	_, err := q.PopHead()
	require.NoError(t, err)
	p.Trigger()
	p.Trigger()

	require.Eventually(t, func() bool { return q.Size() == 1 }, time.Second, 5*time.Millisecond, "refill after trigger")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

type blacklist map[string]bool

func (b blacklist) IsBlacklisted(_ context.Context, id string) (bool, error) {
	return b[id], nil
}
