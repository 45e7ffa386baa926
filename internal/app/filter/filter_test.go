package filter

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chanson/internal/domain/track"
)

type mockBlacklist struct {
	ids map[string]bool
	err error
}

func (m *mockBlacklist) IsBlacklisted(ctx context.Context, trackID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.ids[trackID], nil
}

type mockSettings struct {
	enabled  map[string]bool
	settings map[string]map[string]any
}

func (m *mockSettings) IsFilterEnabled(name string) bool {
	return m.enabled[name]
}

func (m *mockSettings) GetFilterSettings(name string) map[string]any {
	return m.settings[name]
}

func TestBlacklistFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		checker      BlacklistChecker
		wantAccepted bool
		wantCode     string
	}{
		{
			name:         "not blacklisted",
			checker:      &mockBlacklist{ids: map[string]bool{"other": true}},
			wantAccepted: true,
		},
		{
			name:         "blacklisted",
			checker:      &mockBlacklist{ids: map[string]bool{"t1": true}},
			wantAccepted: false,
			wantCode:     CodeBlacklisted,
		},
		{
			name:         "store failure fails closed",
			checker:      &mockBlacklist{err: errors.New("database is locked")},
			wantAccepted: false,
			wantCode:     CodeInternalError,
		},
		{
			name:         "no checker",
			checker:      nil,
			wantAccepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewBlacklistFilter(tt.checker)
			result := f.Check(context.Background(), Request{Origin: track.OriginAutomated}, track.Track{ID: "t1"})
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			assert.Equal(t, tt.wantCode, result.Code)
		})
	}
}

func TestBlacklistFilter_AppliesTo(t *testing.T) {
	f := NewBlacklistFilter(nil)
	assert.True(t, f.AppliesTo(track.OriginManual))
	assert.True(t, f.AppliesTo(track.OriginAutomated))
}

func TestUserPendingFilter_Check(t *testing.T) {
	alice := track.Requester{ID: "alice"}
	queued := []track.Entry{
		track.NewManualEntry(track.Track{ID: "a"}, alice),
		track.NewAutomatedEntry(track.Track{ID: "b"}),
	}

	tests := []struct {
		name         string
		maxPending   int
		requester    *track.Requester
		wantAccepted bool
	}{
		{
			name:         "requester has a pending track",
			maxPending:   1,
			requester:    &alice,
			wantAccepted: false,
		},
		{
			name:         "limit not reached",
			maxPending:   2,
			requester:    &alice,
			wantAccepted: true,
		},
		{
			name:         "other requester",
			maxPending:   1,
			requester:    &track.Requester{ID: "bob"},
			wantAccepted: true,
		},
		{
			name:         "no requester",
			maxPending:   1,
			requester:    nil,
			wantAccepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewUserPendingFilter(&mockQueue{entries: queued})
			f.config.MaxPending = tt.maxPending

			result := f.Check(context.Background(), Request{Origin: track.OriginManual, Requester: tt.requester}, track.Track{ID: "c"})
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, CodeUserPending, result.Code)
			}
		})
	}
}

func TestUserPendingFilter_ValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		want     int
		wantErr  bool
	}{
		{name: "default", settings: map[string]any{}, want: 1},
		{name: "explicit", settings: map[string]any{"max_pending": 3}, want: 3},
		{name: "negative", settings: map[string]any{"max_pending": -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewUserPendingFilter(nil)
			err := f.ValidateConfig(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.config.MaxPending)
		})
	}
}

func TestChain_Execute(t *testing.T) {
	alice := track.Requester{ID: "alice"}
	q := &mockQueue{entries: []track.Entry{
		track.NewManualEntry(newTrack("queued", "Song", "Artist"), alice),
	}}

	chain := NewChain()
	chain.Add(NewBlacklistFilter(&mockBlacklist{ids: map[string]bool{"banned": true}}))
	chain.Add(NewUserPendingFilter(q))
	chain.Add(NewDuplicateTrackFilter(q))

	tests := []struct {
		name         string
		req          Request
		track        track.Track
		wantAccepted bool
		wantCode     string
	}{
		{
			name:         "manual accepted",
			req:          Request{Origin: track.OriginManual, Requester: &track.Requester{ID: "bob"}},
			track:        newTrack("new", "Other", "Artist"),
			wantAccepted: true,
		},
		{
			name:         "blacklist wins first",
			req:          Request{Origin: track.OriginManual, Requester: &alice},
			track:        newTrack("banned", "Other", "Artist"),
			wantAccepted: false,
			wantCode:     CodeBlacklisted,
		},
		{
			name:         "manual pending",
			req:          Request{Origin: track.OriginManual, Requester: &alice},
			track:        newTrack("new", "Other", "Artist"),
			wantAccepted: false,
			wantCode:     CodeUserPending,
		},
		{
			name:         "manual duplicate",
			req:          Request{Origin: track.OriginManual, Requester: &track.Requester{ID: "bob"}},
			track:        newTrack("queued", "Song", "Artist"),
			wantAccepted: false,
			wantCode:     CodeDuplicateTrack,
		},
		{
			name:         "automated skips manual-only filters",
			req:          Request{Origin: track.OriginAutomated},
			track:        newTrack("queued", "Song", "Artist"),
			wantAccepted: true,
		},
		{
			name:         "automated blacklisted",
			req:          Request{Origin: track.OriginAutomated},
			track:        newTrack("banned", "Song", "Artist"),
			wantAccepted: false,
			wantCode:     CodeBlacklisted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := chain.Execute(context.Background(), tt.req, tt.track)
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			assert.Equal(t, tt.wantCode, result.Code)
		})
	}
}

func TestBuild(t *testing.T) {
	settings := &mockSettings{
		enabled: map[string]bool{
			"user_pending_filter":   true,
			"duration_limit_filter": true,
		},
		settings: map[string]map[string]any{
			"user_pending_filter": {"max_pending": 2},
		},
	}

	chain, err := Build(settings, Deps{Queue: &mockQueue{}, Blacklist: &mockBlacklist{}})
	require.NoError(t, err)

	names := make([]string, 0, len(chain.Filters()))
	for _, f := range chain.Filters() {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"blacklist_filter", "duration_limit_filter", "user_pending_filter"}, names)
}

func TestBuild_InvalidSettings(t *testing.T) {
	settings := &mockSettings{
		enabled:  map[string]bool{"user_pending_filter": true},
		settings: map[string]map[string]any{"user_pending_filter": {"max_pending": -5}},
	}

	_, err := Build(settings, Deps{})
	assert.Error(t, err)
}

func TestGetRegistered(t *testing.T) {
	registered := GetRegistered()
	for _, name := range []string{"user_pending_filter", "duration_limit_filter", "duplicate_track_filter"} {
		factory, ok := registered[name]
		require.True(t, ok, name)
		f := factory(Deps{})
		assert.Equal(t, name, f.Name())
		assert.NotEmpty(t, f.ReturnCodes())
		assert.NotEmpty(t, f.Description())
	}
}
