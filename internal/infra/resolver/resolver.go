// Package resolver turns listener queries into playable tracks: catalog
// lookup, artifact download and cache maintenance.
package resolver

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/observe"
	"github.com/osa030/chanson/internal/infra/spotify"
)

// ErrResolutionFailure is returned when a query cannot be turned into a playable track.
var ErrResolutionFailure = errors.New("resolution failure")

// Catalog looks tracks up.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
	GetTrack(ctx context.Context, trackID string) (track.Track, error)
	GetPlaylistTracks(ctx context.Context, playlistURL string) ([]track.Track, error)
}

// Downloader fetches the audio of a track into output.
type Downloader interface {
	Download(ctx context.Context, t track.Track, output string) error
}

// TrackLookup finds previously logged tracks.
type TrackLookup interface {
	FindTrack(ctx context.Context, trackID string) (track.Track, error)
}

// Config represents the resolver configuration.
type Config struct {
	DownloadDir       string
	AudioFormat       string        // artifact extension, e.g. "opus"
	CacheSize         int           // 0 disables the lookup cache
	CacheTTL          time.Duration // lookup cache entry lifetime
	MaxDuration       time.Duration // longer tracks are refused; 0 disables
	MaxPlaylistTracks int           // playlist requests are truncated to this many tracks
}

// Deps are the collaborators of the resolver.
type Deps struct {
	Catalog    Catalog
	Downloader Downloader
	History    TrackLookup // optional
	Metrics    *observe.Metrics
}

// Resolver implements Resolve, ResolvePlaylist and Ensure.
type Resolver struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	// query -> catalog track, without audio location
	cache *expirable.LRU[string, track.Track]
	// one download per track ID at a time
	downloads singleflight.Group
}

// New creates a new resolver.
func New(cfg Config, deps Deps) *Resolver {
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "opus"
	}
	if cfg.MaxPlaylistTracks <= 0 {
		cfg.MaxPlaylistTracks = 100
	}

	r := &Resolver{
		cfg:    cfg,
		deps:   deps,
		logger: zlog.With().Str("component", "resolver").Logger(),
	}
	if cfg.CacheSize > 0 {
		r.cache = expirable.NewLRU[string, track.Track](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return r
}

// Resolve finds the best catalog match for query and ensures its artifact.
// query may be free text or a track URL/URI.
func (r *Resolver) Resolve(ctx context.Context, query string) (t track.Track, err error) {
	start := time.Now()
	defer func() { r.deps.Metrics.RecordResolve(ctx, time.Since(start), err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return track.Track{}, errors.Wrap(ErrResolutionFailure, "empty query")
	}

	t, err = r.lookup(ctx, query)
	if err != nil {
		return track.Track{}, err
	}
	if err := r.checkDuration(t); err != nil {
		return track.Track{}, err
	}
	return r.Ensure(ctx, t)
}

// ResolvePlaylist resolves every track of a playlist. Tracks that cannot be
// resolved are skipped; it fails only when none can be.
func (r *Resolver) ResolvePlaylist(ctx context.Context, query string) (tracks []track.Track, err error) {
	start := time.Now()
	defer func() { r.deps.Metrics.RecordResolve(ctx, time.Since(start), err) }()

	query = strings.TrimSpace(query)
	if !spotify.IsPlaylistReference(query) {
		return nil, errors.Wrapf(ErrResolutionFailure, "not a playlist reference: %q", query)
	}

	items, err := r.deps.Catalog.GetPlaylistTracks(ctx, query)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to get playlist"), ErrResolutionFailure)
	}
	if len(items) > r.cfg.MaxPlaylistTracks {
		r.logger.Info().Msgf("playlist truncated: tracks=%d, limit=%d", len(items), r.cfg.MaxPlaylistTracks)
		items = items[:r.cfg.MaxPlaylistTracks]
	}

	tracks = make([]track.Track, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return nil, errors.Mark(errors.Wrap(ctx.Err(), "playlist resolution cancelled"), ErrResolutionFailure)
		}
		if err := r.checkDuration(item); err != nil {
			r.logger.Debug().Msgf("playlist track skipped: track_id=%s, error=%v", item.ID, err)
			continue
		}
		ensured, err := r.Ensure(ctx, item)
		if err != nil {
			r.logger.Warn().Msgf("playlist track skipped: track_id=%s, error=%v", item.ID, err)
			continue
		}
		tracks = append(tracks, ensured)
	}

	if len(tracks) == 0 {
		return nil, errors.Wrapf(ErrResolutionFailure, "no playable tracks in playlist: %q", query)
	}
	return tracks, nil
}

// Ensure makes sure t has a local artifact at {download_dir}/{id}.{format},
// downloading it when missing. It is idempotent.
func (r *Resolver) Ensure(ctx context.Context, t track.Track) (track.Track, error) {
	if t.ID == "" {
		return track.Track{}, errors.Wrap(ErrResolutionFailure, "track has no id")
	}
	if t.HasArtifact() && fileExists(t.AudioLocation) {
		return t, nil
	}

	path := track.ArtifactPath(r.cfg.DownloadDir, t.ID, r.cfg.AudioFormat)
	if fileExists(path) {
		t.AudioLocation = path
		return t, nil
	}
	if r.deps.Downloader == nil {
		return track.Track{}, errors.Wrapf(ErrResolutionFailure, "artifact missing and no downloader: track_id=%s", t.ID)
	}

	_, err, shared := r.downloads.Do(t.ID, func() (any, error) {
		if fileExists(path) {
			return nil, nil
		}
		if err := os.MkdirAll(r.cfg.DownloadDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create download directory")
		}
		r.logger.Info().Msgf("downloading: track_id=%s, title=%s", t.ID, t.DisplayName())
		if err := r.deps.Downloader.Download(ctx, t, path); err != nil {
			return nil, err
		}
		if !fileExists(path) {
			return nil, errors.Newf("download produced no artifact: path=%s", path)
		}
		return nil, nil
	})
	if err != nil {
		return track.Track{}, errors.Mark(errors.Wrapf(err, "failed to download: track_id=%s", t.ID), ErrResolutionFailure)
	}
	if shared {
		r.logger.Debug().Msgf("download shared: track_id=%s", t.ID)
	}

	t.AudioLocation = path
	return t, nil
}

// lookup returns catalog metadata for query, consulting the cache and history first.
func (r *Resolver) lookup(ctx context.Context, query string) (track.Track, error) {
	key := strings.ToLower(query)
	if r.cache != nil {
		if t, ok := r.cache.Get(key); ok {
			return t, nil
		}
	}

	var (
		t   track.Track
		err error
	)
	if spotify.IsTrackReference(query) {
		t, err = r.lookupReference(ctx, query)
	} else {
		t, err = r.search(ctx, query)
	}
	if err != nil {
		return track.Track{}, err
	}

	t.AudioLocation = ""
	if r.cache != nil {
		r.cache.Add(key, t)
	}
	return t, nil
}

func (r *Resolver) lookupReference(ctx context.Context, ref string) (track.Track, error) {
	if r.deps.History != nil {
		if t, err := r.deps.History.FindTrack(ctx, spotifyID(ref)); err == nil {
			return t, nil
		}
	}
	t, err := r.deps.Catalog.GetTrack(ctx, ref)
	if err != nil {
		return track.Track{}, errors.Mark(errors.Wrap(err, "failed to get track"), ErrResolutionFailure)
	}
	return t, nil
}

func (r *Resolver) search(ctx context.Context, query string) (track.Track, error) {
	results, err := r.deps.Catalog.Search(ctx, query, 1)
	if err != nil {
		return track.Track{}, errors.Mark(errors.Wrap(err, "failed to search"), ErrResolutionFailure)
	}
	if len(results) == 0 {
		return track.Track{}, errors.Wrapf(ErrResolutionFailure, "no results for %q", query)
	}
	return results[0], nil
}

func (r *Resolver) checkDuration(t track.Track) error {
	if r.cfg.MaxDuration > 0 && t.Duration > r.cfg.MaxDuration {
		return errors.Wrapf(ErrResolutionFailure, "track too long: track_id=%s, duration=%s, max=%s",
			t.ID, t.Duration, r.cfg.MaxDuration)
	}
	return nil
}

// spotifyID returns the bare ID of a track URL or URI.
func spotifyID(ref string) string {
	ref = strings.TrimSpace(ref)
	if id, ok := strings.CutPrefix(ref, "spotify:track:"); ok {
		return id
	}
	if _, rest, ok := strings.Cut(ref, "/track/"); ok {
		id, _, _ := strings.Cut(rest, "?")
		return strings.TrimRight(id, "/")
	}
	return ref
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
