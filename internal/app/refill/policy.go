package refill

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/app/filter"
	"github.com/osa030/chanson/internal/app/queue"
	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/history"
	"github.com/osa030/chanson/internal/infra/observe"
)

// Config represents the refill policy configuration.
type Config struct {
	Interval      time.Duration // periodic trigger
	MinQueueDepth int           // 0 disables refill
	RecencyWindow int           // recent plays excluded from candidates
}

// Ensurer makes sure a track has a local artifact.
type Ensurer interface {
	Ensure(ctx context.Context, t track.Track) (track.Track, error)
}

// RecentPlays lists the most recent plays.
type RecentPlays interface {
	RecentPlays(ctx context.Context, limit int) ([]history.Play, error)
}

// SnapshotPublisher receives queue snapshots. It must not block.
type SnapshotPublisher interface {
	PublishQueue(entries []track.Entry)
}

// Waker is woken when entries were added.
type Waker interface {
	Wake()
}

// Deps are the collaborators of the policy. Only Queue and Providers are required.
type Deps struct {
	Queue     *queue.Queue
	Providers *ProviderChain
	Filters   *filter.Chain
	Ensurer   Ensurer
	History   RecentPlays
	Publisher SnapshotPublisher
	Waker     Waker
	Metrics   *observe.Metrics
}

// Policy tops the queue up to MinQueueDepth with automated entries.
// Runs are serialized; the queue's dedup check keeps them idempotent.
type Policy struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	mu        sync.Mutex
	triggerCh chan struct{}
}

// NewPolicy creates a new refill policy.
func NewPolicy(cfg Config, deps Deps) *Policy {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.RecencyWindow < 0 {
		cfg.RecencyWindow = 0
	}
	return &Policy{
		cfg:       cfg,
		deps:      deps,
		logger:    zlog.With().Str("component", "refill").Logger(),
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger asks the run loop for a refill. It never blocks; pending triggers coalesce.
func (p *Policy) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Run refills on start, on every trigger and on every interval until ctx is done.
func (p *Policy) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.refillAndLog(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.triggerCh:
		}
	}
}

func (p *Policy) refillAndLog(ctx context.Context) {
	added, err := p.Refill(ctx)
	if err != nil {
		p.logger.Warn().Msgf("refill failed: error=%v", err)
		return
	}
	if added > 0 {
		p.logger.Info().Msgf("refill added entries: count=%d, queue_size=%d", added, p.deps.Queue.Size())
	}
}

// Refill adds up to MinQueueDepth - size automated entries and returns how
// many were added. A partial refill is not an error.
func (p *Policy) Refill(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	needed := p.cfg.MinQueueDepth - p.deps.Queue.Size()
	if needed <= 0 || p.deps.Providers == nil {
		return 0, nil
	}

	exclude := make(map[string]bool)
	for _, id := range p.deps.Queue.TrackIDs() {
		exclude[id] = true
	}
	if p.deps.History != nil && p.cfg.RecencyWindow > 0 {
		plays, err := p.deps.History.RecentPlays(ctx, p.cfg.RecencyWindow)
		if err != nil {
			return 0, errors.Wrap(err, "failed to read recent plays")
		}
		for _, play := range plays {
			exclude[play.TrackID] = true
		}
	}

	snapshot := p.deps.Queue.Snapshot()
	seeds := make([]track.Track, 0, len(snapshot))
	for _, e := range snapshot {
		seeds = append(seeds, e.Track)
	}

	candidates := p.deps.Providers.Candidates(ctx, needed, seeds, exclude)
	p.logger.Debug().Msgf("refill candidates: needed=%d, candidates=%d", needed, len(candidates))

	added := 0
	for _, c := range candidates {
		if added >= needed || ctx.Err() != nil {
			break
		}
		if p.admit(ctx, c) {
			added++
		}
	}

	if added > 0 {
		p.deps.Metrics.RecordRefill(ctx, added)
		p.deps.Metrics.RecordQueueDepth(ctx, p.deps.Queue.Size())
		if p.deps.Publisher != nil {
			p.deps.Publisher.PublishQueue(p.deps.Queue.Snapshot())
		}
		if p.deps.Waker != nil {
			p.deps.Waker.Wake()
		}
	}
	return added, nil
}

// admit filters, ensures and appends one candidate. Failures are logged only.
func (p *Policy) admit(ctx context.Context, c Candidate) bool {
	t := c.Track

	if p.deps.Filters != nil {
		result := p.deps.Filters.Execute(ctx, filter.Request{Origin: track.OriginAutomated}, t)
		if !result.Accepted {
			p.logger.Debug().Msgf("candidate rejected: track_id=%s, provider=%s, code=%s", t.ID, c.DisplayName, result.Code)
			return false
		}
	}

	if p.deps.Ensurer != nil {
		ensured, err := p.deps.Ensurer.Ensure(ctx, t)
		if err != nil {
			p.logger.Warn().Msgf("candidate artifact unavailable: track_id=%s, provider=%s, error=%v", t.ID, c.DisplayName, err)
			return false
		}
		t = ensured
	}

	if !p.deps.Queue.AppendAutomated(track.NewAutomatedEntry(t)) {
		p.logger.Debug().Msgf("candidate already queued: track_id=%s", t.ID)
		return false
	}
	return true
}
