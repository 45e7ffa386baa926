package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/app/queue"
	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/history"
	"github.com/osa030/chanson/internal/infra/observe"
)

// Config holds scheduler configuration.
type Config struct {
	WakeInterval     time.Duration // Liveness tick
	MaxStartAttempts int           // Consecutive start failures before the head entry is dropped
	RetryBaseDelay   time.Duration // Backoff after the first start failure
	RetryMaxDelay    time.Duration // Backoff ceiling
	GatewayTimeout   time.Duration // Bound for each producer call
	StopGrace        time.Duration // How long shutdown waits for the process to exit
}

func (c *Config) setDefaults() {
	if c.WakeInterval <= 0 {
		c.WakeInterval = 10 * time.Second
	}
	if c.MaxStartAttempts <= 0 {
		c.MaxStartAttempts = 3
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
}

// Deps are the collaborators of the scheduler. Publisher, Refiller and
// Metrics are optional.
type Deps struct {
	Queue     *queue.Queue
	Gateway   Gateway
	Launcher  Launcher
	History   HistoryRecorder
	Publisher SnapshotPublisher
	Refiller  Refiller
	Metrics   *observe.Metrics
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State     State
	Current   *track.Entry
	StartedAt time.Time
	PID       int
}

type exitResult struct {
	entryID string
	err     error
}

// Scheduler plays the head of the queue. A single goroutine (Run) performs
// every state transition; at most one process exists at any time.
type Scheduler struct {
	cfg  Config
	deps Deps

	mu          sync.RWMutex
	state       State
	active      *track.Entry
	proc        CancellableProcess
	startedAt   time.Time
	skipLatched bool // skip requested while Starting
	skipped     bool // current process was interrupted by a skip
	queueEmpty  bool // EventQueueEmpty already emitted for this empty period

	// consecutive start failures of the head entry
	failEntryID string
	failCount   int
	retryAt     time.Time

	wakeCh  chan struct{}
	exitCh  chan exitResult
	eventCh chan Event
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg Config, deps Deps) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		state:   StateIdle,
		wakeCh:  make(chan struct{}, 1),
		exitCh:  make(chan exitResult, 1),
		eventCh: make(chan Event, 32),
	}
}

// Events returns the event channel.
func (s *Scheduler) Events() <-chan Event {
	return s.eventCh
}

// Wake asks the scheduler to re-examine the queue. It never blocks and
// coalesces with pending wake-ups.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// State returns the current playback state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{State: s.state, StartedAt: s.startedAt}
	if s.active != nil {
		e := *s.active
		st.Current = &e
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	return st
}

// Skip interrupts the current track. It does not wait for the process to exit.
func (s *Scheduler) Skip() error {
	return s.skip(func(*track.Entry) bool { return true })
}

// SkipIfTrack skips the current track only when it is trackID.
// Reports whether a skip was requested.
func (s *Scheduler) SkipIfTrack(trackID string) bool {
	return s.skip(func(active *track.Entry) bool {
		return active != nil && active.TrackID() == trackID
	}) == nil
}

// skip checks the active entry and requests the skip under one lock, so the
// entry that matched is the one interrupted.
func (s *Scheduler) skip(match func(active *track.Entry) bool) error {
	s.mu.Lock()
	if s.state == StateIdle || !match(s.active) {
		s.mu.Unlock()
		return ErrNothingToSkip
	}
	switch s.state {
	case StateStarting:
		s.skipLatched = true
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return nil
	}

	s.state = StateStopping
	s.skipped = true
	proc := s.proc
	s.mu.Unlock()

	s.interrupt(proc)
	return nil
}

// Run drives the scheduler until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.WakeInterval)
	defer ticker.Stop()

	zlog.Info().Msgf("playback scheduler started: wake_interval=%v, max_start_attempts=%d",
		s.cfg.WakeInterval, s.cfg.MaxStartAttempts)

	s.Wake()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.wakeCh:
			s.tryStart(ctx)
		case <-ticker.C:
			s.tryStart(ctx)
		case res := <-s.exitCh:
			s.finish(res)
		}
	}
}

func (s *Scheduler) tryStart(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}

	// pinned under s.mu: later requests queue behind the entry being started
	head, err := s.deps.Queue.PinHead()
	if err != nil {
		notify := !s.queueEmpty
		s.queueEmpty = true
		s.mu.Unlock()
		if notify {
			zlog.Debug().Msg("queue is empty, waiting")
			s.emit(Event{Type: EventQueueEmpty})
		}
		return
	}
	s.queueEmpty = false

	if head.ID == s.failEntryID && time.Now().Before(s.retryAt) {
		s.mu.Unlock()
		return
	}

	s.state = StateStarting
	s.active = &head
	s.skipLatched = false
	s.skipped = false
	s.mu.Unlock()

	zlog.Info().Msgf("starting track: entry_id=%s, track_id=%s, title=%s",
		head.ID, head.TrackID(), head.Track.DisplayName())

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	begin := time.Now()
	endpoint, err := s.deps.Gateway.StartProduction(gctx)
	cancel()
	s.deps.Metrics.RecordGateway(ctx, "start", time.Since(begin), err)
	if err != nil {
		s.startFailed(ctx, head, "gateway", err)
		return
	}

	proc, err := s.deps.Launcher.Launch(ctx, head.Track, endpoint)
	if err != nil {
		s.stopProduction()
		if !errors.Is(err, ErrProcessSpawnFailure) {
			err = errors.Mark(err, ErrProcessSpawnFailure)
		}
		s.startFailed(ctx, head, "spawn", err)
		return
	}

	s.mu.Lock()
	s.proc = proc
	s.startedAt = time.Now()
	s.state = StatePlaying
	latched := s.skipLatched
	s.skipLatched = false
	if latched {
		s.state = StateStopping
		s.skipped = true
	}
	s.failEntryID = ""
	s.failCount = 0
	s.mu.Unlock()

	go func(entryID string) {
		s.exitCh <- exitResult{entryID: entryID, err: proc.Wait()}
	}(head.ID)

	zlog.Info().Msgf("track playing: entry_id=%s, pid=%d, rtp_port=%d", head.ID, proc.PID(), endpoint.RTPPort)
	s.deps.Metrics.RecordTrackStarted(ctx, string(head.Origin))
	s.emit(Event{Type: EventTrackStarted, Entry: &head})

	if latched {
		s.interrupt(proc)
	}
}

func (s *Scheduler) startFailed(ctx context.Context, head track.Entry, stage string, cause error) {
	s.mu.Lock()
	s.state = StateIdle
	s.active = nil
	latched := s.skipLatched
	s.skipLatched = false

	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	if s.failEntryID != head.ID {
		s.failEntryID = head.ID
		s.failCount = 0
	}
	s.failCount++
	attempt := s.failCount
	drop := latched || attempt >= s.cfg.MaxStartAttempts
	var delay time.Duration
	if drop {
		s.failEntryID = ""
		s.failCount = 0
	} else {
		delay = s.backoff(attempt)
		s.retryAt = time.Now().Add(delay)
	}
	s.mu.Unlock()

	zlog.Warn().Msgf("failed to start track: entry_id=%s, stage=%s, attempt=%d, error=%v",
		head.ID, stage, attempt, cause)
	s.deps.Metrics.RecordStartFailure(ctx, stage)
	s.emit(Event{Type: EventStartFailed, Entry: &head, Err: cause, Attempt: attempt})

	if !drop {
		time.AfterFunc(delay, s.Wake)
		return
	}

	if _, ok := s.deps.Queue.PopHeadIf(head.ID); ok {
		if latched {
			zlog.Info().Msgf("skipped entry removed before it started: entry_id=%s", head.ID)
			s.emit(Event{Type: EventTrackSkipped, Entry: &head, Err: cause})
		} else {
			zlog.Warn().Msgf("dropping entry after repeated start failures: entry_id=%s, attempts=%d",
				head.ID, attempt)
			s.deps.Metrics.RecordEntryDropped(ctx)
			s.emit(Event{Type: EventEntryDropped, Entry: &head, Err: cause, Attempt: attempt})
		}
		s.queueChanged()
	}
	s.Wake()
}

// backoff returns base * 2^(attempt-1), capped at RetryMaxDelay.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.cfg.RetryBaseDelay
	for i := 1; i < attempt && d < s.cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	return d
}

func (s *Scheduler) finish(res exitResult) {
	s.mu.Lock()
	if s.active == nil || s.active.ID != res.entryID {
		s.mu.Unlock()
		return
	}
	entry := *s.active
	skipped := s.skipped
	s.state = StateStopping
	s.mu.Unlock()

	if res.err != nil && !skipped {
		zlog.Warn().Msgf("stream process exited with error: entry_id=%s, error=%v", entry.ID, res.err)
	}

	s.stopProduction()
	s.recordPlay(entry)
	s.deps.Queue.PopHeadIf(entry.ID)
	s.queueChanged()

	s.mu.Lock()
	s.state = StateIdle
	s.active = nil
	s.proc = nil
	s.skipped = false
	s.startedAt = time.Time{}
	s.mu.Unlock()

	reason, evType := "ended", EventTrackEnded
	if skipped {
		reason, evType = "skipped", EventTrackSkipped
	}
	zlog.Info().Msgf("track finished: entry_id=%s, reason=%s", entry.ID, reason)
	s.deps.Metrics.RecordTrackFinished(context.Background(), reason)
	s.emit(Event{Type: evType, Entry: &entry, Err: res.err})

	s.Wake()
}

func (s *Scheduler) recordPlay(entry track.Entry) {
	if s.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GatewayTimeout)
	defer cancel()

	source := history.SourceAutomated
	if entry.IsManual() {
		source = history.SourceManual
	}
	if err := s.deps.History.AppendHistory(ctx, history.Play{
		TrackID:     entry.TrackID(),
		RequestedBy: entry.RequesterID(),
		Source:      source,
	}); err != nil {
		zlog.Error().Msgf("failed to append history: track_id=%s, error=%v", entry.TrackID(), err)
	}
	if err := s.deps.History.RecordPlay(ctx, entry.Track); err != nil {
		zlog.Error().Msgf("failed to record play: track_id=%s, error=%v", entry.TrackID(), err)
	}
}

func (s *Scheduler) queueChanged() {
	s.deps.Metrics.RecordQueueDepth(context.Background(), s.deps.Queue.Size())
	if s.deps.Publisher != nil {
		s.deps.Publisher.PublishQueue(s.deps.Queue.Snapshot())
	}
	if s.deps.Refiller != nil {
		s.deps.Refiller.Trigger()
	}
}

func (s *Scheduler) stopProduction() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GatewayTimeout)
	defer cancel()

	begin := time.Now()
	err := s.deps.Gateway.StopProduction(ctx)
	s.deps.Metrics.RecordGateway(ctx, "stop", time.Since(begin), err)
	if err != nil {
		zlog.Warn().Msgf("failed to stop production: error=%v", err)
	}
}

func (s *Scheduler) interrupt(proc CancellableProcess) {
	if proc == nil {
		return
	}
	if err := proc.Cancel(); err != nil {
		zlog.Warn().Msgf("failed to interrupt stream process: pid=%d, error=%v", proc.PID(), err)
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	proc := s.proc
	if proc != nil {
		s.state = StateStopping
	}
	s.mu.Unlock()

	if proc != nil {
		zlog.Info().Msgf("stopping stream process for shutdown: pid=%d", proc.PID())
		s.interrupt(proc)
		select {
		case <-s.exitCh:
		case <-time.After(s.cfg.StopGrace + time.Second):
			zlog.Warn().Msgf("stream process did not exit in time: pid=%d", proc.PID())
		}
		s.stopProduction()
	}

	s.mu.Lock()
	s.state = StateIdle
	s.active = nil
	s.proc = nil
	s.mu.Unlock()

	zlog.Info().Msg("playback scheduler stopped")
}

func (s *Scheduler) emit(ev Event) {
	select {
	case s.eventCh <- ev:
	default:
		zlog.Warn().Msgf("playback event dropped, channel full: type=%s", ev.Type)
	}
}
