// Package ffmpeg spawns the ffmpeg process that decodes a track artifact and
// streams it as RTP/Opus to the producer.
package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/app/playback"
	"github.com/osa030/chanson/internal/domain/stream"
	"github.com/osa030/chanson/internal/domain/track"
)

// Config represents the fixed encoding parameters.
type Config struct {
	Binary      string        // ffmpeg executable
	Bitrate     string        // e.g. "128k"
	SSRC        uint32        // RTP synchronization source
	PayloadType int           // RTP payload type (dynamic range)
	StopGrace   time.Duration // time between interrupt and kill
}

// Launcher implements playback.Launcher.
type Launcher struct {
	cfg    Config
	logger zerolog.Logger
}

// NewLauncher creates a new launcher.
func NewLauncher(cfg Config) *Launcher {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "128k"
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = 101
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Launcher{
		cfg:    cfg,
		logger: zlog.With().Str("component", "ffmpeg").Logger(),
	}
}

// Args returns the ffmpeg arguments for streaming file to endpoint.
func (l *Launcher) Args(file string, endpoint stream.Endpoint) []string {
	return []string{
		"-nostats",
		"-loglevel", "warning",
		"-re",
		"-i", file,
		"-vn",
		"-map", "0:a",
		"-c:a", "libopus",
		"-b:a", l.cfg.Bitrate,
		"-ar", "48000",
		"-ac", "2",
		"-ssrc", strconv.FormatUint(uint64(l.cfg.SSRC), 10),
		"-payload_type", strconv.Itoa(l.cfg.PayloadType),
		"-f", "rtp",
		endpoint.RTPURL(),
	}
}

// Launch starts ffmpeg for the track's artifact. The process is not bound to
// ctx: it runs until it exits or is cancelled.
func (l *Launcher) Launch(ctx context.Context, t track.Track, endpoint stream.Endpoint) (playback.CancellableProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "launch cancelled"), playback.ErrProcessSpawnFailure)
	}
	if !t.HasArtifact() {
		return nil, errors.Wrapf(playback.ErrProcessSpawnFailure, "track has no audio artifact: track_id=%s", t.ID)
	}
	if _, err := os.Stat(t.AudioLocation); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "audio artifact unavailable: path=%s", t.AudioLocation), playback.ErrProcessSpawnFailure)
	}
	if !endpoint.Valid() {
		return nil, errors.Wrapf(playback.ErrProcessSpawnFailure, "invalid endpoint: host=%s, rtp=%d, rtcp=%d",
			endpoint.Host, endpoint.RTPPort, endpoint.RTCPPort)
	}

	args := l.Args(t.AudioLocation, endpoint)
	cmd := exec.Command(l.cfg.Binary, args...)
	l.logger.Debug().Msgf("spawning: %s %v", l.cfg.Binary, args)

	p, err := start(cmd, l.cfg.StopGrace, l.logger.With().Str("track_id", t.ID).Logger())
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to start %s", l.cfg.Binary), playback.ErrProcessSpawnFailure)
	}
	return p, nil
}
