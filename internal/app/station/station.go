// Package station ties the queue, the playback scheduler, the refill policy
// and the notification fan-out together into a single radio station.
package station

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/chanson/internal/app/filter"
	"github.com/osa030/chanson/internal/app/notification"
	"github.com/osa030/chanson/internal/app/playback"
	"github.com/osa030/chanson/internal/app/queue"
	"github.com/osa030/chanson/internal/app/refill"
	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/history"
	"github.com/osa030/chanson/internal/infra/observe"
)

// Result codes besides the filter codes. They double as message keys.
const (
	CodeQueued         = "queued"
	CodePlaylistQueued = "playlist_queued"
	CodeNowPlaying     = "now_playing"
	CodeEntryDropped   = "entry_dropped"
	CodeTrackNotFound  = "track_not_found"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNoCurrentTrack   = errors.New("no track is playing")
	ErrBlacklistedTrack = errors.New("track is blacklisted")
	ErrRejected         = errors.New("request rejected")
)

// Resolver turns listener queries into playable tracks.
type Resolver interface {
	Resolve(ctx context.Context, query string) (track.Track, error)
	ResolvePlaylist(ctx context.Context, query string) ([]track.Track, error)
	Ensure(ctx context.Context, t track.Track) (track.Track, error)
}

// Pruner trims the artifact cache. IDs in protected are kept.
type Pruner interface {
	Prune(protected map[string]bool) (removed int, freed int64, err error)
}

// Messages formats requester-facing messages by code.
type Messages interface {
	FormatMessage(code string, vars map[string]string) string
}

// Config holds the station configuration.
type Config struct {
	Playback    playback.Config
	Refill      refill.Config
	SinkTimeout time.Duration
}

// Deps are the collaborators of the station. Sink, Pruner, Messages and
// Metrics are optional.
type Deps struct {
	Queue     *queue.Queue
	History   *history.Store
	Resolver  Resolver
	Gateway   playback.Gateway
	Launcher  playback.Launcher
	Filters   *filter.Chain
	Providers *refill.ProviderChain
	Sink      notification.Sink
	Pruner    Pruner
	Messages  Messages
	Metrics   *observe.Metrics
}

// Result is the outcome of a listener request.
type Result struct {
	Accepted bool
	Code     string
	Message  string
	Position int // 1-based position of the (first) queued entry
	Count    int // number of queued entries
	Track    track.Track
	EntryID  string
}

// Err returns nil for accepted results, otherwise an error carrying the code.
func (r Result) Err() error {
	if r.Accepted {
		return nil
	}
	err := errors.Newf("request rejected: code=%s", r.Code)
	if r.Code == filter.CodeBlacklisted {
		return errors.Mark(err, ErrBlacklistedTrack)
	}
	return errors.Mark(err, ErrRejected)
}

// Status is a point-in-time view of the station.
type Status struct {
	Playback    playback.Status
	QueueSize   int
	ManualCount int
	Subscribers int
}

// Station serves listener and admin operations and runs the playback loops.
type Station struct {
	deps      Deps
	queue     *queue.Queue
	scheduler *playback.Scheduler
	policy    *refill.Policy
	manager   *notification.Manager
	publisher *notification.Publisher
	logger    zerolog.Logger
}

// New creates a station.
func New(cfg Config, deps Deps) (*Station, error) {
	if deps.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if deps.History == nil {
		return nil, errors.New("history store is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if deps.Filters == nil {
		deps.Filters = filter.NewChain()
	}

	s := &Station{
		deps:    deps,
		queue:   deps.Queue,
		manager: notification.NewManager(),
		logger:  zlog.With().Str("component", "station").Logger(),
	}
	s.publisher = notification.NewPublisher(s.manager, deps.Sink, cfg.SinkTimeout)

	// The scheduler wakes through the station, so the policy may be built first.
	s.policy = refill.NewPolicy(cfg.Refill, refill.Deps{
		Queue:     deps.Queue,
		Providers: deps.Providers,
		Filters:   deps.Filters,
		Ensurer:   deps.Resolver,
		History:   deps.History,
		Publisher: s.publisher,
		Waker:     s,
		Metrics:   deps.Metrics,
	})
	s.scheduler = playback.NewScheduler(cfg.Playback, playback.Deps{
		Queue:     deps.Queue,
		Gateway:   deps.Gateway,
		Launcher:  deps.Launcher,
		History:   deps.History,
		Publisher: s.publisher,
		Refiller:  s.policy,
		Metrics:   deps.Metrics,
	})
	return s, nil
}

// Run drives the scheduler, the refill policy, the notification publisher and
// the event loop until ctx is done.
func (s *Station) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.scheduler.Run(ctx) })
	g.Go(func() error { return s.policy.Run(ctx) })
	g.Go(func() error { return s.publisher.Run(ctx) })
	g.Go(func() error { return s.eventLoop(ctx) })

	s.logger.Info().Msg("station started")
	err := g.Wait()
	s.manager.Close()
	s.logger.Info().Msgf("station stopped: error=%v", err)
	return err
}

// Wake asks the scheduler to re-examine the queue.
func (s *Station) Wake() {
	s.scheduler.Wake()
}

// RequestTrack resolves query and queues the track for requester.
// Rejections are reported through the Result; the error is reserved for
// invalid input and cancellation.
func (s *Station) RequestTrack(ctx context.Context, query string, requester track.Requester) (Result, error) {
	if err := validateRequest(query, requester); err != nil {
		return Result{}, err
	}

	t, err := s.deps.Resolver.Resolve(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		s.logger.Info().Msgf("track not resolved: query=%q, requester=%s, error=%v", query, requester.ID, err)
		return s.reject(CodeTrackNotFound, nil), nil
	}

	req := filter.Request{Origin: track.OriginManual, Requester: &requester}
	if res := s.deps.Filters.Execute(ctx, req, t); !res.Accepted {
		s.logger.Info().Msgf("request rejected: track_id=%s, requester=%s, code=%s", t.ID, requester.ID, res.Code)
		return s.reject(res.Code, &t), nil
	}

	s.appendLog(ctx, t, requester.ID)

	entry := track.NewManualEntry(t, requester)
	pos := s.queue.InsertManual(entry) + 1
	s.queueChanged()

	res := Result{
		Accepted: true,
		Code:     CodeQueued,
		Position: pos,
		Count:    1,
		Track:    t,
		EntryID:  entry.ID,
	}
	res.Message = s.message(CodeQueued, trackVars(t, map[string]string{"position": strconv.Itoa(pos)}))
	s.publisher.Notify(&notification.Notification{
		Type:    notification.TypeTrackQueued,
		Entry:   &entry,
		Message: res.Message,
	})
	s.logger.Info().Msgf("track queued: track_id=%s, requester=%s, position=%d", t.ID, requester.ID, pos)
	return res, nil
}

// RequestPlaylist resolves every track of a playlist and queues the accepted
// ones as a contiguous manual batch.
func (s *Station) RequestPlaylist(ctx context.Context, query string, requester track.Requester) (Result, error) {
	if err := validateRequest(query, requester); err != nil {
		return Result{}, err
	}

	tracks, err := s.deps.Resolver.ResolvePlaylist(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		s.logger.Info().Msgf("playlist not resolved: query=%q, requester=%s, error=%v", query, requester.ID, err)
		return s.reject(CodeTrackNotFound, nil), nil
	}

	req := filter.Request{Origin: track.OriginManual, Requester: &requester}
	entries := make([]track.Entry, 0, len(tracks))
	var firstRejection string
	for _, t := range tracks {
		if res := s.deps.Filters.Execute(ctx, req, t); !res.Accepted {
			s.logger.Debug().Msgf("playlist track rejected: track_id=%s, code=%s", t.ID, res.Code)
			if firstRejection == "" {
				firstRejection = res.Code
			}
			continue
		}
		s.appendLog(ctx, t, requester.ID)
		entries = append(entries, track.NewManualEntry(t, requester))
	}
	if len(entries) == 0 {
		return s.reject(firstRejection, nil), nil
	}

	pos := s.queue.InsertManualBatch(entries) + 1
	s.queueChanged()

	res := Result{
		Accepted: true,
		Code:     CodePlaylistQueued,
		Position: pos,
		Count:    len(entries),
		Track:    entries[0].Track,
		EntryID:  entries[0].ID,
	}
	res.Message = s.message(CodePlaylistQueued, map[string]string{
		"position": strconv.Itoa(pos),
		"count":    strconv.Itoa(len(entries)),
	})
	s.publisher.Notify(&notification.Notification{
		Type:    notification.TypeTrackQueued,
		Entry:   &entries[0],
		Message: res.Message,
	})
	s.logger.Info().Msgf("playlist queued: requester=%s, count=%d, rejected=%d, position=%d",
		requester.ID, len(entries), len(tracks)-len(entries), pos)
	return res, nil
}

// Skip interrupts the current track.
func (s *Station) Skip() error {
	return s.scheduler.Skip()
}

// Blacklist bans a track, removes its queued instances and interrupts it if
// it is playing. An empty trackID means the current track. Returns the number
// of queued entries removed.
func (s *Station) Blacklist(ctx context.Context, trackID, reason string) (int, error) {
	if trackID == "" {
		current := s.scheduler.Status().Current
		if current == nil {
			return 0, ErrNoCurrentTrack
		}
		trackID = current.TrackID()
	}

	if err := s.deps.History.Blacklist(ctx, trackID, reason); err != nil {
		return 0, errors.Wrapf(err, "failed to blacklist track: track_id=%s", trackID)
	}

	// Remove before skipping: once the queue no longer holds the track, the
	// scheduler can only have it as its active entry, and the skip sees it.
	removed := s.queue.RemoveByTrackID(trackID)
	skipped := s.scheduler.SkipIfTrack(trackID)
	if removed > 0 {
		s.queueChanged()
	}
	s.policy.Trigger()

	s.logger.Info().Msgf("track blacklisted: track_id=%s, reason=%q, removed=%d, skipped=%v", trackID, reason, removed, skipped)
	return removed, nil
}

// Refill tops up the automated segment immediately.
func (s *Station) Refill(ctx context.Context) (int, error) {
	return s.policy.Refill(ctx)
}

// Status returns the current station status.
func (s *Station) Status() Status {
	return Status{
		Playback:    s.scheduler.Status(),
		QueueSize:   s.queue.Size(),
		ManualCount: s.queue.ManualCount(),
		Subscribers: s.manager.SubscriberCount(),
	}
}

// Queue returns a snapshot of the queue, head first.
func (s *Station) Queue() []track.Entry {
	return s.queue.Snapshot()
}

// NotificationManager returns the notification manager.
func (s *Station) NotificationManager() *notification.Manager {
	return s.manager
}

func (s *Station) eventLoop(ctx context.Context) error {
	events := s.scheduler.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

func (s *Station) handleEvent(ev playback.Event) {
	switch ev.Type {
	case playback.EventTrackStarted:
		s.logger.Info().Msgf("now playing: track_id=%s, title=%q", ev.Entry.TrackID(), ev.Entry.Track.Metadata.Title)
		s.publisher.Notify(&notification.Notification{
			Type:    notification.TypeTrackStarted,
			Entry:   ev.Entry,
			Message: s.message(CodeNowPlaying, trackVars(ev.Entry.Track, nil)),
		})
	case playback.EventTrackEnded:
		s.publisher.Notify(&notification.Notification{Type: notification.TypeTrackEnded, Entry: ev.Entry})
		s.prune()
	case playback.EventTrackSkipped:
		s.publisher.Notify(&notification.Notification{Type: notification.TypeTrackSkipped, Entry: ev.Entry})
		s.prune()
	case playback.EventEntryDropped:
		s.logger.Warn().Msgf("entry dropped: track_id=%s, error=%v", ev.Entry.TrackID(), ev.Err)
		s.publisher.Notify(&notification.Notification{
			Type:    notification.TypeEntryDropped,
			Entry:   ev.Entry,
			Message: s.message(CodeEntryDropped, trackVars(ev.Entry.Track, nil)),
		})
	case playback.EventStartFailed:
		s.logger.Warn().Msgf("start failed: track_id=%s, attempt=%d, error=%v", ev.Entry.TrackID(), ev.Attempt, ev.Err)
	case playback.EventQueueEmpty:
		s.logger.Info().Msg("queue is empty")
		s.policy.Trigger()
	}
}

// prune trims the artifact cache, keeping every queued track.
func (s *Station) prune() {
	if s.deps.Pruner == nil {
		return
	}
	protected := make(map[string]bool)
	for _, id := range s.queue.TrackIDs() {
		protected[id] = true
	}
	if current := s.scheduler.Status().Current; current != nil {
		protected[current.TrackID()] = true
	}
	removed, freed, err := s.deps.Pruner.Prune(protected)
	if err != nil {
		s.logger.Warn().Msgf("failed to prune artifacts: %v", err)
		return
	}
	if removed > 0 {
		s.logger.Info().Msgf("artifacts pruned: removed=%d, freed_bytes=%d", removed, freed)
	}
}

func (s *Station) appendLog(ctx context.Context, t track.Track, requesterID string) {
	if err := s.deps.History.AppendLog(ctx, t, requesterID); err != nil {
		s.logger.Warn().Msgf("failed to append log: track_id=%s, error=%v", t.ID, err)
	}
}

func (s *Station) queueChanged() {
	snapshot := s.queue.Snapshot()
	s.deps.Metrics.RecordQueueDepth(context.Background(), len(snapshot))
	s.publisher.PublishQueue(snapshot)
	s.scheduler.Wake()
}

func (s *Station) reject(code string, t *track.Track) Result {
	if code == "" {
		code = filter.CodeInternalError
	}
	res := Result{Code: code}
	var vars map[string]string
	if t != nil {
		res.Track = *t
		vars = trackVars(*t, nil)
	}
	res.Message = s.message(code, vars)
	return res
}

func (s *Station) message(code string, vars map[string]string) string {
	if s.deps.Messages == nil {
		return code
	}
	return s.deps.Messages.FormatMessage(code, vars)
}

func trackVars(t track.Track, extra map[string]string) map[string]string {
	vars := map[string]string{
		"title":  t.Metadata.Title,
		"artist": t.Metadata.Artist,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func validateRequest(query string, requester track.Requester) error {
	if query == "" {
		return errors.Wrap(ErrInvalidRequest, "query is required")
	}
	if requester.ID == "" {
		return errors.Wrap(ErrInvalidRequest, "requester id is required")
	}
	return nil
}
