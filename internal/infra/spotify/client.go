// Package spotify provides a catalog client for the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/chanson/internal/domain/track"
)

// pageLimit is the Spotify API maximum page size for playlist items.
const pageLimit = 100

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a new Spotify client authenticated with the client credentials flow.
// No user scope is needed: the catalog is read-only.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	// Token source refreshes the access token automatically
	httpClient := creds.Client(ctx)

	return newClient(spotify.New(httpClient), cfg.Market), nil
}

// NewWithHTTPClient creates a client that sends requests to baseURL through
// httpClient. Used against API stubs.
func NewWithHTTPClient(httpClient *http.Client, baseURL, market string) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return newClient(spotify.New(httpClient, spotify.WithBaseURL(baseURL)), market)
}

func newClient(client *spotify.Client, market string) *Client {
	if market == "" {
		market = "US"
	}
	return &Client{
		client:     client,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (track.Track, error) {
	id := extractTrackID(trackID)
	if id == "" {
		return track.Track{}, errors.New("track id is required")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to get track: id=%s", id)
	}

	return convertTrack(result), nil
}

// Search searches for tracks on Spotify.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	var result *spotify.SearchResult
	err := c.retry(ctx, func() error {
		r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}

	if result.Tracks == nil {
		return []track.Track{}, nil
	}
	tracks := make([]track.Track, 0, len(result.Tracks.Tracks))
	for i := range result.Tracks.Tracks {
		tracks = append(tracks, convertTrack(&result.Tracks.Tracks[i]))
	}

	return tracks, nil
}

// GetPlaylistTracks retrieves all tracks from a playlist.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistURL string) ([]track.Track, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var tracks []track.Track
	offset := 0
	for {
		page, err := c.playlistPage(ctx, playlistID, pageLimit, offset)
		if err != nil {
			return nil, err
		}

		tracks = append(tracks, pageTracks(page)...)

		if len(page.Items) < pageLimit {
			break
		}
		offset += pageLimit
	}

	return tracks, nil
}

// CheckPlaylistExists checks if a playlist exists without fetching all tracks.
func (c *Client) CheckPlaylistExists(ctx context.Context, playlistURL string) error {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return errors.New("invalid playlist URL")
	}

	if _, err := c.playlistPage(ctx, playlistID, 1, 0); err != nil {
		return errors.Wrap(err, "playlist does not exist or is not accessible")
	}
	return nil
}

// GetPlaylistTracksRandom retrieves a random sample of tracks from a playlist.
// It reads the total track count first, then samples from one random page.
func (c *Client) GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]track.Track, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}
	if count <= 0 {
		return []track.Track{}, nil
	}

	firstPage, err := c.playlistPage(ctx, playlistID, 1, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist info")
	}

	totalTracks := int(firstPage.Total)
	if totalTracks == 0 {
		return []track.Track{}, nil
	}

	offset := 0
	if maxOffset := totalTracks - pageLimit; maxOffset > 0 {
		offset = rand.IntN(maxOffset + 1)
	}

	page, err := c.playlistPage(ctx, playlistID, pageLimit, offset)
	if err != nil {
		return nil, err
	}

	tracks := pageTracks(page)
	rand.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
	if len(tracks) > count {
		tracks = tracks[:count]
	}

	return tracks, nil
}

func (c *Client) playlistPage(ctx context.Context, playlistID string, limit, offset int) (*spotify.PlaylistItemPage, error) {
	var page *spotify.PlaylistItemPage
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(limit),
			spotify.Offset(offset),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get playlist items: id=%s, offset=%d", playlistID, offset)
	}
	return page, nil
}

// pageTracks converts the playable track items of a page, skipping episodes.
func pageTracks(page *spotify.PlaylistItemPage) []track.Track {
	tracks := make([]track.Track, 0, len(page.Items))
	for _, item := range page.Items {
		t := item.Track.Track
		if t == nil || t.ID == "" {
			continue
		}
		if t.IsPlayable != nil && !*t.IsPlayable {
			continue
		}
		tracks = append(tracks, convertTrack(t))
	}
	return tracks
}

// convertTrack converts a Spotify FullTrack to a domain Track.
// The audio location is left empty; the resolver fills it.
func convertTrack(t *spotify.FullTrack) track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var cover string
	if len(t.Album.Images) > 0 {
		cover = t.Album.Images[0].URL
	}

	return track.Track{
		ID: string(t.ID),
		Metadata: track.Metadata{
			Title:    t.Name,
			Artist:   strings.Join(artists, ", "),
			Album:    t.Album.Name,
			CoverURL: cover,
		},
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URL:      TrackURL(string(t.ID)),
	}
}

// TrackURL returns the Spotify URL for a track.
func TrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// IsTrackReference reports whether input is a Spotify track URL or URI.
func IsTrackReference(input string) bool {
	input = strings.TrimSpace(input)
	return strings.HasPrefix(input, "spotify:track:") ||
		(strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/"))
}

// IsPlaylistReference reports whether input is a Spotify playlist URL or URI.
func IsPlaylistReference(input string) bool {
	input = strings.TrimSpace(input)
	return strings.HasPrefix(input, "spotify:playlist:") ||
		(strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/"))
}

// retry retries an operation with linear backoff while the error is retryable.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry cancelled")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}

	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	return extractID(input, "track")
}

// extractID handles spotify:{kind}:ID and open.spotify.com[/intl-XX]/{kind}/ID.
// Anything else is assumed to be an ID already.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	if uri := "spotify:" + kind + ":"; strings.HasPrefix(input, uri) {
		return strings.TrimPrefix(input, uri)
	}

	segment := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, segment) {
		parts := strings.Split(input, segment)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
