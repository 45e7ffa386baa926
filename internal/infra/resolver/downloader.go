package resolver

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/domain/track"
	"github.com/osa030/chanson/internal/infra/spotify"
)

// DefaultDownloadCommand downloads with spotdl. {output-ext} is spotdl's own
// placeholder and is passed through untouched.
var DefaultDownloadCommand = []string{
	"spotdl", "download", "{url}",
	"--output", "{dir}/{id}.{output-ext}",
	"--format", "{format}",
	"--bitrate", "128k",
	"--headless",
}

// CommandDownloader runs an external command to fetch a track's audio.
// Placeholders: {url}, {query}, {id}, {dir}, {format}, {output}.
type CommandDownloader struct {
	Command []string
	Format  string
	Timeout time.Duration
}

// NewCommandDownloader creates a downloader. An empty command selects DefaultDownloadCommand.
func NewCommandDownloader(command []string, format string, timeout time.Duration) *CommandDownloader {
	if len(command) == 0 {
		command = DefaultDownloadCommand
	}
	if format == "" {
		format = "opus"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandDownloader{Command: command, Format: format, Timeout: timeout}
}

// Args expands the command template for t and output.
func (d *CommandDownloader) Args(t track.Track, output string) []string {
	url := t.URL
	if url == "" {
		url = spotify.TrackURL(t.ID)
	}
	replacer := strings.NewReplacer(
		"{url}", url,
		"{query}", strings.TrimSpace(t.Metadata.Title+" "+t.Metadata.Artist),
		"{id}", t.ID,
		"{dir}", filepath.Dir(output),
		"{format}", d.Format,
		"{output}", output,
	)

	args := make([]string, len(d.Command))
	for i, arg := range d.Command {
		args[i] = replacer.Replace(arg)
	}
	return args
}

// Download runs the command and waits for it, bounded by the timeout.
func (d *CommandDownloader) Download(ctx context.Context, t track.Track, output string) error {
	args := d.Args(t, output)

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	zlog.Debug().Msgf("running download command: %v", args)

	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := strings.TrimSpace(string(out))
		if len(tail) > 1024 {
			tail = tail[len(tail)-1024:]
		}
		if ctx.Err() != nil {
			err = errors.Wrap(ctx.Err(), "download command timed out")
		}
		return errors.WithDetail(errors.Wrapf(err, "download command failed: %s", args[0]), tail)
	}
	return nil
}
