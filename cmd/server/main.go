// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	apiconnect "github.com/osa030/chanson/internal/api/connect"
	"github.com/osa030/chanson/internal/app/filter"
	"github.com/osa030/chanson/internal/app/playback"
	"github.com/osa030/chanson/internal/app/queue"
	"github.com/osa030/chanson/internal/app/refill"
	"github.com/osa030/chanson/internal/app/station"
	"github.com/osa030/chanson/internal/infra/config"
	"github.com/osa030/chanson/internal/infra/ffmpeg"
	"github.com/osa030/chanson/internal/infra/history"
	"github.com/osa030/chanson/internal/infra/logger"
	"github.com/osa030/chanson/internal/infra/observe"
	"github.com/osa030/chanson/internal/infra/producer"
	"github.com/osa030/chanson/internal/infra/resolver"
	"github.com/osa030/chanson/internal/infra/spotify"
)

var version = "dev"

var (
	app        = kingpin.New("chanson-server", "chanson radio station server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Version(version)
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %+v", err)
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %+v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observe.Metrics
	if !cfg.Metrics.Disabled {
		shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return errors.Wrap(err, "failed to init metrics")
		}
		defer func() { _ = shutdownMetrics(context.Background()) }()

		metrics, err = observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return errors.Wrap(err, "failed to create metrics")
		}
	}

	store, err := history.Open(cfg.Storage.DBPath, history.Options{
		RecencyWindow: cfg.Refill.RecencyWindow,
		Debug:         *verbose,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open history store")
	}
	defer func() { _ = store.Close() }()

	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		Market:       cfg.Spotify.Market,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify client")
	}

	if err := validatePlaylists(ctx, cfg, spotifyClient); err != nil {
		return errors.Wrap(err, "playlist validation failed")
	}

	producerClient, err := producer.New(producer.Config{
		BaseURL: cfg.Producer.BaseURL,
		RTPHost: cfg.Producer.RTPHost,
		Timeout: cfg.ProducerTimeout(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create producer client")
	}

	res := resolver.New(resolver.Config{
		DownloadDir:       cfg.Storage.DownloadDir,
		AudioFormat:       cfg.Resolver.AudioFormat,
		CacheSize:         cfg.Resolver.CacheSize,
		CacheTTL:          time.Duration(cfg.Resolver.CacheTTLSec) * time.Second,
		MaxDuration:       time.Duration(cfg.Resolver.MaxDurationSec) * time.Second,
		MaxPlaylistTracks: cfg.Resolver.MaxPlaylistTracks,
	}, resolver.Deps{
		Catalog: spotifyClient,
		Downloader: resolver.NewCommandDownloader(
			cfg.Resolver.DownloadCommand,
			cfg.Resolver.AudioFormat,
			time.Duration(cfg.Resolver.TimeoutSec)*time.Second,
		),
		History: store,
		Metrics: metrics,
	})

	q := queue.New()
	filters, err := filter.Build(cfg, filter.Deps{Blacklist: store, Queue: q})
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}
	for _, f := range filters.Filters() {
		zlog.Info().Msgf("filter enabled: name=%s", f.Name())
	}

	providers, err := refill.NewProviderChainFromConfig(cfg.Refill.Providers, refill.ProviderDeps{
		History: store,
		Catalog: spotifyClient,
	})
	if err != nil {
		return errors.Wrap(err, "invalid refill provider config")
	}

	st, err := station.New(station.Config{
		Playback: playback.Config{
			WakeInterval:     time.Duration(cfg.Playback.WakeIntervalSec) * time.Second,
			MaxStartAttempts: cfg.Playback.MaxStartAttempts,
			RetryBaseDelay:   time.Duration(cfg.Playback.RetryBaseDelayMs) * time.Millisecond,
			RetryMaxDelay:    time.Duration(cfg.Playback.RetryMaxDelayMs) * time.Millisecond,
			GatewayTimeout:   cfg.ProducerTimeout(),
			StopGrace:        time.Duration(cfg.FFmpeg.StopGraceMs) * time.Millisecond,
		},
		Refill: refill.Config{
			Interval:      time.Duration(cfg.Refill.IntervalSec) * time.Second,
			MinQueueDepth: cfg.Refill.MinQueueDepth,
			RecencyWindow: cfg.Refill.RecencyWindow,
		},
		SinkTimeout: cfg.ProducerTimeout(),
	}, station.Deps{
		Queue:    q,
		History:  store,
		Resolver: res,
		Gateway:  producerClient,
		Launcher: ffmpeg.NewLauncher(ffmpeg.Config{
			Binary:      cfg.FFmpeg.Binary,
			Bitrate:     cfg.FFmpeg.Bitrate,
			SSRC:        cfg.FFmpeg.SSRC,
			PayloadType: cfg.FFmpeg.PayloadType,
			StopGrace:   time.Duration(cfg.FFmpeg.StopGraceMs) * time.Millisecond,
		}),
		Filters:   filters,
		Providers: providers,
		Sink:      producerClient,
		Pruner: &resolver.Pruner{
			Dir:      cfg.Storage.DownloadDir,
			Ext:      cfg.Resolver.AudioFormat,
			MaxBytes: cfg.Resolver.MaxCacheBytes,
		},
		Messages: cfg,
		Metrics:  metrics,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create station")
	}

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewListenerServiceHandler(apiconnect.NewListenerService(st)))
	mux.Handle(apiconnect.NewAdminServiceHandler(apiconnect.NewAdminService(st), cfg.Admin.Token))
	if !cfg.Metrics.Disabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	// Streams inherit ctx so they end when the server shuts down.
	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     h2c.NewHandler(mux, &http2.Server{}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen: addr=%s", cfg.Server.Addr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.Run(gctx) })
	g.Go(func() error {
		zlog.Info().Msgf("Starting server: addr=%s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server error")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown server: %v", err)
		}
		return nil
	})

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")
	defer executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	err = g.Wait()
	zlog.Info().Msg("Server stopped")
	return err
}

// printFilters prints available filters.
func printFilters() {
	registry := filter.GetRegistered()
	names := make([]string, 0, len(registry)+1)
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	printFilter(filter.NewBlacklistFilter(nil), " (always enabled)")
	for _, name := range names {
		printFilter(registry[name](filter.Deps{}), "")
	}
}

func printFilter(f filter.Filter, note string) {
	codes := strings.Join(f.ReturnCodes(), ", ")
	fmt.Printf("  %-30s - %s [codes: %s]%s\n", f.Name(), f.Description(), codes, note)
}

// validatePlaylists checks that playlists referenced by refill providers
// exist. It retries to ride out transient errors during startup.
func validatePlaylists(ctx context.Context, cfg *config.Config, spotifyClient *spotify.Client) error {
	maxRetries := 5
	baseDelay := 1 * time.Second

	validate := func(name, url string) error {
		zlog.Info().Msgf("Validating %s playlist: url=%s", name, url)

		var lastErr error
		for i := 0; i < maxRetries; i++ {
			if i > 0 {
				delay := baseDelay * time.Duration(1<<uint(i-1))
				zlog.Info().Msgf("Retrying %s playlist validation in %v...", name, delay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

			if err := spotifyClient.CheckPlaylistExists(ctx, url); err != nil {
				lastErr = err
				zlog.Warn().Msgf("Failed to validate %s playlist (attempt %d/%d): %v", name, i+1, maxRetries, err)
				continue
			}

			zlog.Info().Msgf("Playlist validated: name=%s", name)
			return nil
		}
		return errors.Wrapf(lastErr, "failed after %d attempts", maxRetries)
	}

	var errs []string
	for _, p := range cfg.Refill.Providers {
		if p.Type != "playlist" {
			continue
		}
		url, _ := p.Settings["playlist_url"].(string)
		if url == "" {
			continue
		}
		if err := validate(p.DisplayName, url); err != nil {
			errs = append(errs, fmt.Sprintf("%s (%s): %v", p.DisplayName, url, err))
		}
	}

	if len(errs) > 0 {
		return errors.Newf("playlist validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
