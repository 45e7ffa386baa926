// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Admin    AdminConfig             `yaml:"admin"`
	Storage  StorageConfig           `yaml:"storage"`
	Producer ProducerConfig          `yaml:"producer"`
	FFmpeg   FFmpegConfig            `yaml:"ffmpeg"`
	Playback PlaybackConfig          `yaml:"playback"`
	Refill   RefillConfig            `yaml:"refill"`
	Resolver ResolverConfig          `yaml:"resolver"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
	Metrics  MetricsConfig           `yaml:"metrics"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// StorageConfig represents local storage locations.
// DownloadDir and DBPath default to paths under DataDir.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir" default:"data"`
	DownloadDir string `yaml:"download_dir"`
	DBPath      string `yaml:"db_path"`
}

// ProducerConfig represents the remote media producer service.
type ProducerConfig struct {
	BaseURL   string `yaml:"base_url" default:"http://127.0.0.1:3000" validate:"required,url"`
	RTPHost   string `yaml:"rtp_host" default:"127.0.0.1" validate:"required"`
	TimeoutMs int    `yaml:"timeout_ms" default:"10000" validate:"gte=100,lte=120000"`
}

// FFmpegConfig represents the decode/stream process parameters.
type FFmpegConfig struct {
	Binary      string `yaml:"binary" default:"ffmpeg" validate:"required"`
	Bitrate     string `yaml:"bitrate" default:"128k" validate:"required"`
	SSRC        uint32 `yaml:"ssrc" default:"11111111"`
	PayloadType int    `yaml:"payload_type" default:"101" validate:"gte=96,lte=127"`
	StopGraceMs int    `yaml:"stop_grace_ms" default:"5000" validate:"gte=0,lte=60000"`
}

// PlaybackConfig represents playback scheduler configuration.
type PlaybackConfig struct {
	WakeIntervalSec  int `yaml:"wake_interval_sec" default:"10" validate:"gte=1,lte=300"`
	MaxStartAttempts int `yaml:"max_start_attempts" default:"3" validate:"gte=1,lte=100"`
	RetryBaseDelayMs int `yaml:"retry_base_delay_ms" default:"2000" validate:"gte=0,lte=60000"`
	RetryMaxDelayMs  int `yaml:"retry_max_delay_ms" default:"60000" validate:"gte=0,lte=600000"`
}

// RefillConfig represents the automated refill policy configuration.
type RefillConfig struct {
	IntervalSec   int              `yaml:"interval_sec" default:"30" validate:"gte=1,lte=3600"`
	MinQueueDepth int              `yaml:"min_queue_depth" default:"10" validate:"gte=0,lte=1000"`
	RecencyWindow int              `yaml:"recency_window" default:"100" validate:"gte=0,lte=100000"`
	Providers     []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig represents a single refill candidate provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=history playlist similar"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// ResolverConfig represents the track resolver configuration.
type ResolverConfig struct {
	DownloadCommand []string `yaml:"download_command"`
	AudioFormat     string   `yaml:"audio_format" default:"opus" validate:"required"`
	CacheSize       int      `yaml:"cache_size" default:"256" validate:"gte=0"`
	CacheTTLSec     int      `yaml:"cache_ttl_sec" default:"3600" validate:"gte=0"`
	MaxCacheBytes   int64    `yaml:"max_cache_bytes" default:"5368709120" validate:"gte=0"`
	TimeoutSec      int      `yaml:"timeout_sec" default:"300" validate:"gte=1"`

	// MaxDurationSec refuses longer tracks at resolve time.
	MaxDurationSec    int `yaml:"max_duration_sec" default:"600" validate:"gte=0"`
	MaxPlaylistTracks int `yaml:"max_playlist_tracks" default:"100" validate:"gte=1,lte=1000"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
// Placeholders: {title}, {artist}, {position}, {count}.
type MessagesConfig struct {
	Queued                string `yaml:"queued" default:"Queued {title} by {artist} at position {position}."`
	PlaylistQueued        string `yaml:"playlist_queued" default:"Queued {count} tracks starting at position {position}."`
	NowPlaying            string `yaml:"now_playing" default:"Playing {title} by {artist}."`
	EntryDropped          string `yaml:"entry_dropped" default:"Could not play {title} by {artist}, it was removed from the queue."`
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
	TrackNotFound         string `yaml:"track_not_found" default:"No results for that query."`
	BlacklistedTrack      string `yaml:"blacklisted_track" default:"That track is blacklisted."`
	UserPending           string `yaml:"user_pending" default:"You already have tracks waiting in the queue."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That track is already in the queue."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That track is too long."`
}

// MetricsConfig represents the metrics endpoint configuration.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path" default:"/metrics"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	cfg.applyDerivedPaths()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		c.Storage.DownloadDir = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("PRODUCER_URL"); v != "" {
		c.Producer.BaseURL = v
	}
}

func (c *Config) applyDerivedPaths() {
	if c.Storage.DownloadDir == "" {
		c.Storage.DownloadDir = filepath.Join(c.Storage.DataDir, "downloads")
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.DataDir, "chanson.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Playback.RetryMaxDelayMs < c.Playback.RetryBaseDelayMs {
		return errors.Newf("retry_max_delay_ms (%d) must not be less than retry_base_delay_ms (%d)",
			c.Playback.RetryMaxDelayMs, c.Playback.RetryBaseDelayMs)
	}

	return nil
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "queued":
		return c.Messages.Queued
	case "playlist_queued":
		return c.Messages.PlaylistQueued
	case "now_playing":
		return c.Messages.NowPlaying
	case "entry_dropped":
		return c.Messages.EntryDropped
	case "track_not_found":
		return c.Messages.TrackNotFound
	case "blacklisted_track":
		return c.Messages.BlacklistedTrack
	case "user_pending":
		return c.Messages.UserPending
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	default:
		return c.Messages.DefaultError
	}
}

// FormatMessage returns the message for code with {key} placeholders replaced.
func (c *Config) FormatMessage(code string, vars map[string]string) string {
	msg := c.GetMessage(code)
	if len(vars) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// ProducerTimeout returns the producer request timeout.
func (c *Config) ProducerTimeout() time.Duration {
	return time.Duration(c.Producer.TimeoutMs) * time.Millisecond
}
