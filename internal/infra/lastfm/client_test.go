package lastfm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{APIKey: "test_key"})
	require.NoError(t, err)
	client.baseURL = server.URL + "/"
	return client
}

func TestGetSimilarTracks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "track.getSimilar", r.URL.Query().Get("method"))
		assert.Equal(t, "Queen", r.URL.Query().Get("artist"))
		assert.Equal(t, "Under Pressure", r.URL.Query().Get("track"))
		assert.Equal(t, "test_key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		response := `{
			"similartracks": {
				"track": [
					{"name": "Another One Bites the Dust", "match": 1, "artist": {"name": "Queen"}},
					{"name": "Let's Dance", "match": 0.8, "artist": {"name": "David Bowie"}}
				]
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	})

	tracks, err := client.GetSimilarTracks(context.Background(), "Under Pressure", "Queen", 5)
	require.NoError(t, err)
	assert.Equal(t, []SimilarTrack{
		{Name: "Another One Bites the Dust", Artist: "Queen"},
		{Name: "Let's Dance", Artist: "David Bowie"},
	}, tracks)
}

func TestGetSimilarTracks_RequiresNames(t *testing.T) {
	client, err := New(Config{APIKey: "k"})
	require.NoError(t, err)

	_, err = client.GetSimilarTracks(context.Background(), "", "Queen", 5)
	assert.Error(t, err)
}

func TestGetChartTopTracks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "chart.getTopTracks", r.URL.Query().Get("method"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"), "limit is clamped")

		response := `{
			"tracks": {
				"track": [
					{"name": "Track 1", "artist": {"name": "Artist 1"}, "playcount": "5000"},
					{"name": "Track 2", "artist": {"name": "Artist 2"}, "playcount": "2000"}
				]
			}
		}`
		fmt.Fprint(w, response)
	})

	tracks, err := client.GetChartTopTracks(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Track 1", tracks[0].Name)
	assert.Equal(t, "Artist 1", tracks[0].Artist)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "error in body",
			status:  http.StatusOK,
			body:    `{"error": 10, "message": "Invalid API key"}`,
			wantMsg: "Invalid API key",
		},
		{
			name:    "server error",
			status:  http.StatusServiceUnavailable,
			body:    `<html>down</html>`,
			wantMsg: "status 503",
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `{"tracks": [`,
			wantMsg: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.GetChartTopTracks(context.Background(), 10)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
